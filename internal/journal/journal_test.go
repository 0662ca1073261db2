package journal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissborg/academic-certs/config"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(config.Journal{InMemory: true, RecordTTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestPutGet(t *testing.T) {
	j := newJournal(t)

	require.NoError(t, j.Put(Record{SignatureKeccak: "0xaa", CertificateHash: "0x01", Status: StatusPending}))

	rec, err := j.Get("0xaa")
	require.NoError(t, err)
	assert.Equal(t, "0x01", rec.CertificateHash)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.UpdatedAt.IsZero())

	_, err = j.Get("0xbb")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPutRequiresDigest(t *testing.T) {
	j := newJournal(t)
	assert.Error(t, j.Put(Record{CertificateHash: "0x01"}))
}

func TestUpdate(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Put(Record{SignatureKeccak: "0xaa", Status: StatusInconclusive, Attempts: 1}))

	rec, err := j.Update("0xaa", func(r *Record) {
		r.Status = StatusAnchored
		r.TxHash = "0xdead"
		r.Attempts++
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)

	stored, err := j.Get("0xaa")
	require.NoError(t, err)
	assert.Equal(t, StatusAnchored, stored.Status)
	assert.Equal(t, "0xdead", stored.TxHash)

	_, err = j.Update("0xcc", func(*Record) {})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRetryable(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Put(Record{SignatureKeccak: "0x01", Status: StatusAnchored}))
	require.NoError(t, j.Put(Record{SignatureKeccak: "0x02", Status: StatusInconclusive, Attempts: 1}))
	require.NoError(t, j.Put(Record{SignatureKeccak: "0x03", Status: StatusFailed, Attempts: 5}))
	require.NoError(t, j.Put(Record{SignatureKeccak: "0x04", Status: StatusSkipped}))

	recs, err := j.Retryable(5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "0x02", recs[0].SignatureKeccak)
	assert.Equal(t, "0x04", recs[1].SignatureKeccak, "skipped while the ledger was off")

	recs, err = j.Retryable(0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Put(Record{SignatureKeccak: "0xaa", Status: StatusInconclusive}))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.Update("0xaa", func(r *Record) { r.Attempts++ })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := j.Get("0xaa")
	require.NoError(t, err)
	assert.Equal(t, writers, rec.Attempts)
}
