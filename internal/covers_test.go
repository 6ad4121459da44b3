package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoverChecker struct {
	statuses map[string]int
	errs     map[string]error
}

func (f *fakeCoverChecker) Head(ctx context.Context, url string) (int, error) {
	if err, ok := f.errs[url]; ok {
		return 0, err
	}
	return f.statuses[url], nil
}

func TestCoverCleanerTreatsDisabledStoreAsNothingToDo(t *testing.T) {
	cleaner := &CoverCleaner{
		store: NewStore(nil),
		checker: &fakeCoverChecker{
			statuses: map[string]int{
				"https://good.example/cover.jpg": 200,
				"https://gone.example/cover.jpg": 404,
			},
		},
		cfg: DefaultCoverCleanupConfig(),
	}

	// With a disabled Store, ListBooksWithCoverURLs returns ErrDisabled
	// immediately, so Run should treat that as "nothing to do" rather
	// than a failure.
	summary, err := cleaner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Checked)
}

func TestCoverCleanerHeadCheckClassifiesStatuses(t *testing.T) {
	checker := &fakeCoverChecker{
		statuses: map[string]int{
			"https://good.example/cover.jpg": 200,
			"https://redirect.example/c.jpg":  301,
		},
		errs: map[string]error{
			"https://timeout.example/c.jpg": errors.New("deadline exceeded"),
		},
	}

	status, err := checker.Head(context.Background(), "https://good.example/cover.jpg")
	require.NoError(t, err)
	assert.Equal(t, 200, status)

	_, err = checker.Head(context.Background(), "https://timeout.example/c.jpg")
	assert.Error(t, err)
}

func TestQuarantineWithNilObjectCacheIsNoOp(t *testing.T) {
	cleaner := &CoverCleaner{
		store:  NewStore(nil),
		object: nil,
		cfg:    DefaultCoverCleanupConfig(),
	}
	// object is nil, so PutRaw's nil-receiver guard makes this a no-op
	// rather than a panic -- mirrors ObjectCache's disabled-tier pattern.
	err := cleaner.quarantine(context.Background(), "book-1", "https://gone.example/x.jpg", 404, "not found")
	require.NoError(t, err)
}
