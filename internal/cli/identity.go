package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissborg/academic-certs/internal/domain"
	"github.com/swissborg/academic-certs/internal/identity"
)

type identifierOutput struct {
	UniqueIdentifier string   `json:"unique_identifier"`
	Levels           []string `json:"levels,omitempty"`
}

// AddDeriveIDCommand adds derive-id and its principal subcommands.
func AddDeriveIDCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "derive-id",
		Short: "Derive the unique identifier of a principal",
		Long: `Derive the identifier the registry assigns to a principal, without touching
the database. Useful to look up a student or institution from its personal data.`,
	}

	cmd.AddCommand(deriveStudentCmd(), deriveInstitutionCmd(), deriveUserCmd())
	parent.AddCommand(cmd)
}

func deriveStudentCmd() *cobra.Command {
	var in struct {
		firstname, lastname, idPrefix, dob string
	}

	cmd := &cobra.Command{
		Use:   "student",
		Short: "Identifier of a student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dob, err := time.Parse(time.DateOnly, in.dob)
			if err != nil {
				return fmt.Errorf("--dob must be formatted %s: %w", time.DateOnly, err)
			}
			// same rules as registration
			if err := domain.Validate(domain.StudentInput{
				Firstname:   in.firstname,
				Lastname:    in.lastname,
				IDPrefix:    in.idPrefix,
				DateOfBirth: dob,
			}); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), identifierOutput{
				UniqueIdentifier: identity.Student(in.lastname, in.firstname, in.idPrefix, dob),
			})
		},
	}
	cmd.Flags().StringVar(&in.firstname, "firstname", "", "first name")
	cmd.Flags().StringVar(&in.lastname, "lastname", "", "last name")
	cmd.Flags().StringVar(&in.idPrefix, "id-prefix", "", "identity document prefix, one letter and three digits")
	cmd.Flags().StringVar(&in.dob, "dob", "", "date of birth, YYYY-MM-DD")
	return cmd
}

func deriveInstitutionCmd() *cobra.Command {
	var name, parentID string

	cmd := &cobra.Command{
		Use:   "institution",
		Short: "Identifier of an institution, optionally under a parent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return domain.NewValidationError("name", "is required")
			}
			uid := identity.Institution(name, parentID)
			return writeJSON(cmd.OutOrStdout(), identifierOutput{UniqueIdentifier: uid, Levels: identity.Levels(uid)})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "institution name")
	cmd.Flags().StringVar(&parentID, "parent", "", "unique identifier of the parent institution")
	return cmd
}

func deriveUserCmd() *cobra.Command {
	var username, institutionID string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Identifier of an institution user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || institutionID == "" {
				return domain.NewValidationError("username", "--username and --institution are required")
			}
			uid := identity.Composite(institutionID, identity.User(username))
			return writeJSON(cmd.OutOrStdout(), identifierOutput{UniqueIdentifier: uid, Levels: identity.Levels(uid)})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name of the user")
	cmd.Flags().StringVar(&institutionID, "institution", "", "unique identifier of the owning institution")
	return cmd
}
