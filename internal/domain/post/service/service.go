package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/schoolboard/internal/domain/post/dao"
	"github.com/vadim/schoolboard/internal/domain/post/entity"
)

// Error codes recorded on posts and groups when a phase fails
const (
	ErrCodeRenderFailed      = "render_failed"
	ErrCodeCDNUnavailable    = "cdn_unavailable"
	ErrCodeGraphTransient    = "graph_transient"
	ErrCodeGraphInvalidInput = "graph_invalid_input"
	ErrCodeGraphAuth         = "graph_auth"
	ErrCodeReconciledMissing = "reconciled_missing"
	ErrCodeReconciledFound   = "reconciled_found"
)

// Service handles queue state for the publishing pipeline.
// All status moves go through here so the transition graph holds everywhere.
type Service struct {
	posts       dao.PostRepository
	groups      dao.GroupRepository
	maxAttempts int

	// now is swapped in tests
	now func() time.Time
}

// New creates a new pipeline service
func New(posts dao.PostRepository, groups dao.GroupRepository, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		posts:       posts,
		groups:      groups,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// EnqueueInput represents an approved forum post entering the pipeline
type EnqueueInput struct {
	AccountID     string
	TemplateID    string
	ForumPostID   string
	Title         string
	Body          string
	AuthorDisplay string
	PublishMode   entity.PublishMode
	Priority      int
	ForumPostedAt time.Time
}

// Enqueue snapshots the forum content and creates a pending post
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*entity.Post, error) {
	now := s.now()

	p := &entity.Post{
		ID:            uuid.New().String(),
		PublicID:      uuid.New().String(),
		AccountID:     in.AccountID,
		TemplateID:    in.TemplateID,
		ForumPostID:   in.ForumPostID,
		PublishMode:   in.PublishMode,
		Status:        entity.StatusPending,
		Priority:      in.Priority,
		Title:         in.Title,
		Body:          in.Body,
		AuthorDisplay: in.AuthorDisplay,
		ForumPostedAt: in.ForumPostedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.posts.Create(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// GetPost retrieves a post by its public identifier
func (s *Service) GetPost(ctx context.Context, publicID string) (*entity.Post, error) {
	p, err := s.posts.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, entity.ErrPostNotFound
	}
	return p, nil
}

// Cancel pulls a post from the pipeline while it is still pending or ready
func (s *Service) Cancel(ctx context.Context, publicID string) (*entity.Post, error) {
	p, err := s.GetPost(ctx, publicID)
	if err != nil {
		return nil, err
	}

	if !p.IsCancellable() {
		return nil, entity.ErrPostNotCancellable
	}

	ok, err := s.posts.Cancel(ctx, p.ID, p.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A worker reserved it between read and cancel
		return nil, entity.ErrPostNotCancellable
	}

	return s.posts.GetByID(ctx, p.ID)
}

// ListForRender retrieves pending posts up to limit
func (s *Service) ListForRender(ctx context.Context, limit int) ([]entity.Post, error) {
	return s.posts.ListForRender(ctx, limit)
}

// ListInstantReady retrieves rendered instant-mode posts up to limit
func (s *Service) ListInstantReady(ctx context.Context, limit int) ([]entity.Post, error) {
	return s.posts.ListInstantReady(ctx, limit)
}

// ReserveForRender claims a pending post for one worker
func (s *Service) ReserveForRender(ctx context.Context, id, workerToken string) (bool, error) {
	return s.posts.Reserve(ctx, id, entity.StatusPending, entity.StatusRendering, workerToken)
}

// ReserveForPublish claims a ready post for one worker
func (s *Service) ReserveForPublish(ctx context.Context, id, workerToken string) (bool, error) {
	return s.posts.Reserve(ctx, id, entity.StatusReady, entity.StatusPublishing, workerToken)
}

// ReleaseRender returns a reserved post to pending without counting a retry
func (s *Service) ReleaseRender(ctx context.Context, id string) error {
	return s.posts.Release(ctx, id, entity.StatusRendering, entity.StatusPending)
}

// ReleasePublish returns a reserved post to ready without counting a retry
func (s *Service) ReleasePublish(ctx context.Context, id string) error {
	return s.posts.Release(ctx, id, entity.StatusPublishing, entity.StatusReady)
}

// CompleteRender stores the uploaded image URL and caption
func (s *Service) CompleteRender(ctx context.Context, id, imageURL, caption string) error {
	return s.posts.SetRendered(ctx, id, imageURL, caption)
}

// FailRender requeues a failed render, or parks the post once the retry
// budget is spent
func (s *Service) FailRender(ctx context.Context, p *entity.Post, errCode, errMsg string) error {
	if p.RetryCount+1 >= s.maxAttempts {
		return s.posts.SetFailed(ctx, p.ID, errCode, errMsg)
	}
	return s.posts.RequeueRender(ctx, p.ID, errCode, errMsg)
}

// SavePendingContainer persists a Graph container id as soon as it is known,
// so a publish retry resumes instead of creating a duplicate container
func (s *Service) SavePendingContainer(ctx context.Context, id, containerID string) error {
	return s.posts.SetPendingContainer(ctx, id, containerID)
}

// CompletePublish records a successful publish
func (s *Service) CompletePublish(ctx context.Context, id, igMediaID, permalink string) error {
	return s.posts.SetPublished(ctx, id, igMediaID, permalink, s.now())
}

// FailPublish requeues a failed publish, or parks the post once the retry
// budget is spent
func (s *Service) FailPublish(ctx context.Context, p *entity.Post, errCode, errMsg string) error {
	if p.RetryCount+1 >= s.maxAttempts {
		return s.posts.SetFailed(ctx, p.ID, errCode, errMsg)
	}
	return s.posts.RequeuePublish(ctx, p.ID, errCode, errMsg)
}

// FailPost parks a post in failed regardless of the retry budget
func (s *Service) FailPost(ctx context.Context, id, errCode, errMsg string) error {
	return s.posts.SetFailed(ctx, id, errCode, errMsg)
}

// BatchBacklog reports accounts with ungrouped rendered batch posts
func (s *Service) BatchBacklog(ctx context.Context) ([]dao.BatchBacklog, error) {
	return s.posts.ListBatchBacklog(ctx)
}

// FormCarousel bundles the oldest rendered batch posts of an account into a
// new carousel group. Returns nil when fewer than threshold posts are
// waiting; with more waiting, exactly threshold posts are taken and the rest
// stay for the next formation. Candidate order is created_at with id as
// tie-break, so formation is deterministic under concurrent enqueue.
func (s *Service) FormCarousel(ctx context.Context, accountID string, threshold, maxSize int) (*entity.CarouselGroup, error) {
	if threshold < 2 {
		threshold = 2
	}
	if maxSize < 2 || maxSize > 10 {
		maxSize = 10
	}
	if threshold > maxSize {
		threshold = maxSize
	}

	candidates, err := s.posts.ListCarouselCandidates(ctx, accountID, threshold)
	if err != nil {
		return nil, err
	}
	if len(candidates) < threshold {
		return nil, nil
	}

	now := s.now()
	g := &entity.CarouselGroup{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Status:    entity.GroupStatusForming,
		Size:      len(candidates),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.groups.Create(ctx, g); err != nil {
		return nil, err
	}

	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	if err := s.posts.AssignGroup(ctx, g.ID, ids); err != nil {
		// Another formation tick grabbed one of the members; drop the shell
		_ = s.groups.SetFailed(ctx, g.ID, "formation_race", err.Error())
		return nil, fmt.Errorf("assigning group members: %w", err)
	}

	if _, err := s.groups.SetStatus(ctx, g.ID, entity.GroupStatusForming, entity.GroupStatusReady); err != nil {
		return nil, err
	}
	g.Status = entity.GroupStatusReady

	return g, nil
}

// ListReadyGroups retrieves carousel groups awaiting publish
func (s *Service) ListReadyGroups(ctx context.Context, limit int) ([]entity.CarouselGroup, error) {
	return s.groups.ListByStatus(ctx, entity.GroupStatusReady, limit)
}

// ReserveGroup claims a ready group for one worker and moves every member
// into publishing, so no member can be cancelled or re-grouped mid-publish.
// A member that already left ready (an operator cancel between formation and
// reservation) dissolves the group; survivors rejoin the pool.
func (s *Service) ReserveGroup(ctx context.Context, id string) (bool, error) {
	ok, err := s.groups.SetStatus(ctx, id, entity.GroupStatusReady, entity.GroupStatusProcessing)
	if err != nil || !ok {
		return ok, err
	}

	members, err := s.posts.ListByGroup(ctx, id)
	if err != nil {
		_, _ = s.groups.SetStatus(ctx, id, entity.GroupStatusProcessing, entity.GroupStatusReady)
		return false, err
	}

	token := uuid.New().String()
	for i, m := range members {
		ok, err := s.posts.Reserve(ctx, m.ID, entity.StatusReady, entity.StatusPublishing, token)
		if err != nil {
			return false, err
		}
		if !ok {
			for _, r := range members[:i] {
				_ = s.posts.Release(ctx, r.ID, entity.StatusPublishing, entity.StatusReady)
			}
			if rerr := s.RollbackGroup(ctx, id, "member_lost", "member left the group before publish"); rerr != nil {
				return false, rerr
			}
			return false, nil
		}
	}

	return true, nil
}

// ReleaseGroup returns a reserved group and its members to ready without
// counting a retry
func (s *Service) ReleaseGroup(ctx context.Context, id string) error {
	members, err := s.posts.ListByGroup(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.posts.Release(ctx, m.ID, entity.StatusPublishing, entity.StatusReady); err != nil {
			return err
		}
	}

	_, err = s.groups.SetStatus(ctx, id, entity.GroupStatusProcessing, entity.GroupStatusReady)
	return err
}

// GroupMembers retrieves the posts of a group in carousel order
func (s *Service) GroupMembers(ctx context.Context, groupID string) ([]entity.Post, error) {
	return s.posts.ListByGroup(ctx, groupID)
}

// SaveGroupContainer persists the parent container id for retry reuse
func (s *Service) SaveGroupContainer(ctx context.Context, groupID, containerID string) error {
	return s.groups.SetPendingContainer(ctx, groupID, containerID)
}

// CompleteGroup records a successful carousel publish on the group and on
// every member post
func (s *Service) CompleteGroup(ctx context.Context, groupID, igMediaID, permalink string) error {
	now := s.now()

	members, err := s.posts.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.posts.SetPublished(ctx, m.ID, igMediaID, permalink, now); err != nil {
			return err
		}
	}

	return s.groups.SetPublished(ctx, groupID, igMediaID, permalink, now)
}

// FailGroup requeues a failed group, or parks it once the retry budget is
// spent. Requeueing hands the members back to ready for the next attempt;
// terminal failure parks the member posts too.
func (s *Service) FailGroup(ctx context.Context, g *entity.CarouselGroup, errCode, errMsg string) error {
	members, err := s.posts.ListByGroup(ctx, g.ID)
	if err != nil {
		return err
	}

	if g.RetryCount+1 < s.maxAttempts {
		for _, m := range members {
			if err := s.posts.Release(ctx, m.ID, entity.StatusPublishing, entity.StatusReady); err != nil {
				return err
			}
		}
		return s.groups.Requeue(ctx, g.ID, errCode, errMsg)
	}

	for _, m := range members {
		if err := s.posts.SetFailed(ctx, m.ID, errCode, errMsg); err != nil {
			return err
		}
	}

	return s.groups.SetFailed(ctx, g.ID, errCode, errMsg)
}

// FailGroupFinal parks a group and all its members regardless of the retry
// budget. Used when the group as a whole was rejected and re-forming it
// could only repeat the rejection.
func (s *Service) FailGroupFinal(ctx context.Context, groupID, errCode, errMsg string) error {
	members, err := s.posts.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.posts.SetFailed(ctx, m.ID, errCode, errMsg); err != nil {
			return err
		}
	}
	return s.groups.SetFailed(ctx, groupID, errCode, errMsg)
}

// RollbackGroup dissolves a group whose publish cannot succeed as formed.
// Member posts go back to the ungrouped ready pool, keeping any child
// container ids they already earned, and can join the next formation.
func (s *Service) RollbackGroup(ctx context.Context, groupID, errCode, errMsg string) error {
	members, err := s.posts.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.posts.Release(ctx, m.ID, entity.StatusPublishing, entity.StatusReady); err != nil {
			return err
		}
	}

	if err := s.posts.ClearGroup(ctx, groupID); err != nil {
		return err
	}
	return s.groups.SetFailed(ctx, groupID, errCode, errMsg)
}

// StuckPosts retrieves posts stranded in a working status past the cutoff.
// A post strands when its worker died between reservation and completion.
func (s *Service) StuckPosts(ctx context.Context, olderThan time.Duration) ([]entity.Post, error) {
	return s.posts.Stuck(ctx, s.now().Add(-olderThan))
}

// ResolveStuckPublished completes a stuck post whose media turned out to
// exist on the Instagram side, recording how the post was recovered
func (s *Service) ResolveStuckPublished(ctx context.Context, id, igMediaID, permalink string) error {
	if err := s.posts.SetRecoveryNote(ctx, id, ErrCodeReconciledFound, "media found during reconciliation"); err != nil {
		return err
	}
	return s.posts.SetPublished(ctx, id, igMediaID, permalink, s.now())
}

// Statistics aggregates per-status counters for an account
func (s *Service) Statistics(ctx context.Context, accountID string) (*entity.Statistics, error) {
	return s.posts.GetStatistics(ctx, accountID)
}
