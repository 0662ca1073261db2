package api

import "fmt"

var (
	ErrParsReq         = fmt.Errorf("parsing request failed")
	ErrParsDraftID     = fmt.Errorf("parsing draft id failed")
	ErrValidateReq     = fmt.Errorf("validating request failed")
	ErrLoadInstitution = fmt.Errorf("loading institution failed")
	ErrLoadStudent     = fmt.Errorf("loading student failed")
	ErrLoadUser        = fmt.Errorf("loading institution user failed")
	ErrLoadCert        = fmt.Errorf("loading certificate failed")
	ErrLoadDraft       = fmt.Errorf("loading draft failed")
	ErrLoadAnchor      = fmt.Errorf("loading anchor record failed")
	ErrRegister        = fmt.Errorf("registration failed")
	ErrCertIssuing     = fmt.Errorf("issuing certificate failed")
	ErrDraftCreating   = fmt.Errorf("creating draft failed")
	ErrDraftConfirming = fmt.Errorf("confirming draft failed")
	ErrAuthorize       = fmt.Errorf("authorizing institution on ledger failed")
	ErrRotateKeys      = fmt.Errorf("regenerating signing keys failed")
	ErrListCerts       = fmt.Errorf("listing certificates failed")
	ErrDelete          = fmt.Errorf("deleting record failed")
)
