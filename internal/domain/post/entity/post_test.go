package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusRendering},
		{StatusPending, StatusCancelled},
		{StatusRendering, StatusReady},
		{StatusRendering, StatusPending},
		{StatusRendering, StatusFailed},
		{StatusReady, StatusPublishing},
		{StatusReady, StatusCancelled},
		{StatusPublishing, StatusPublished},
		{StatusPublishing, StatusReady},
		{StatusPublishing, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusReady},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusReady},
		{StatusPending, StatusPublished},
		{StatusReady, StatusRendering},
		{StatusPublished, StatusPending},
		{StatusPublished, StatusFailed},
		{StatusCancelled, StatusPending},
		{StatusPublishing, StatusPending},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusPublished.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
}

func TestPostIsCancellable(t *testing.T) {
	p := &Post{Status: StatusPending}
	assert.True(t, p.IsCancellable())

	p.Status = StatusReady
	assert.True(t, p.IsCancellable())

	for _, s := range []Status{StatusRendering, StatusPublishing, StatusPublished, StatusFailed, StatusCancelled} {
		p.Status = s
		assert.False(t, p.IsCancellable(), string(s))
	}
}

func TestPostValidate(t *testing.T) {
	valid := Post{
		AccountID:   "acc-1",
		ForumPostID: "f-1",
		Title:       "hello",
		PublishMode: PublishModeInstant,
	}
	assert.NoError(t, valid.Validate())

	p := valid
	p.AccountID = ""
	assert.ErrorIs(t, p.Validate(), ErrEmptyAccountID)

	p = valid
	p.ForumPostID = ""
	assert.ErrorIs(t, p.Validate(), ErrEmptyForumPostID)

	p = valid
	p.Title = ""
	p.Body = ""
	assert.ErrorIs(t, p.Validate(), ErrEmptyContent)

	p = valid
	p.PublishMode = "firehose"
	assert.ErrorIs(t, p.Validate(), ErrInvalidPublishMode)
}
