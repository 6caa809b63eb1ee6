package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageAfter_FirstPage(t *testing.T) {
	uids := []uint32{5, 1, 9, 3, 7}

	page, next, err := pageAfter(uids, "", 3)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 3, 5}, page)
	assert.Equal(t, "5", next)
}

func TestPageAfter_ResumesPastExpungedMessages(t *testing.T) {
	// first page handed out UIDs up to 50; archiving has since removed them
	// from the listing, but the remaining UIDs must all still be returned
	remaining := []uint32{60, 70, 80}

	page, next, err := pageAfter(remaining, "50", 50)
	require.NoError(t, err)

	assert.Equal(t, []uint32{60, 70, 80}, page)
	assert.Empty(t, next)
}

func TestPageAfter_TokenFiltersHandedOutUIDs(t *testing.T) {
	// a message that failed to archive keeps its UID in the listing; it must
	// not be replayed within the same sync
	uids := []uint32{40, 60, 70}

	page, next, err := pageAfter(uids, "50", 2)
	require.NoError(t, err)

	assert.Equal(t, []uint32{60, 70}, page)
	assert.Empty(t, next)
}

func TestPageAfter_ChainedPagesCoverEveryUIDOnce(t *testing.T) {
	uids := []uint32{10, 20, 30, 40, 50}

	var seen []uint32
	token := ""
	for {
		page, next, err := pageAfter(uids, token, 2)
		require.NoError(t, err)
		seen = append(seen, page...)
		if next == "" {
			break
		}
		token = next
	}

	assert.Equal(t, uids, seen)
}

func TestPageAfter_Exhausted(t *testing.T) {
	page, next, err := pageAfter([]uint32{10, 20}, "20", 50)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)
}

func TestPageAfter_InvalidToken(t *testing.T) {
	_, _, err := pageAfter([]uint32{10}, "not-a-uid", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid page token")
}
