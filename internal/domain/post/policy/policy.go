package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vadim/schoolboard/internal/domain/post/entity"
	"github.com/vadim/schoolboard/internal/domain/post/service"
	"github.com/vadim/schoolboard/internal/httpx/upstream/instagram"
	"github.com/vadim/schoolboard/internal/render"
)

// Instagram caps captions at 2200 characters; keep headroom for hashtags
const captionLimit = 2200

// publishBudget bounds one publish attempt per record, polling included
const publishBudget = 2 * time.Minute

// CardRenderer draws one forum post onto an image card
type CardRenderer interface {
	Render(content render.Content, cfg render.Config, logo []byte) ([]byte, error)
}

// CDN publishes rendered images under a public URL
type CDN interface {
	Publish(ctx context.Context, data []byte, subdir, name string) (string, error)
	Delete(ctx context.Context, subdir, name string) error
}

// GraphPublisher covers the Instagram publishing surface the pipeline needs.
// The interface lives here (consumer) not in the upstream package (provider).
type GraphPublisher interface {
	PublishSingle(ctx context.Context, in instagram.SingleInput) (*instagram.Result, error)
	PublishCarousel(ctx context.Context, in instagram.CarouselInput) (*instagram.Result, error)
	ContainerStatus(ctx context.Context, containerID, accessToken, correlationID string) (instagram.ContainerStatus, error)
	MediaInfo(ctx context.Context, mediaID, accessToken, correlationID string) (*instagram.MediaInfo, error)
}

// PublishTarget is everything needed to publish on behalf of one account
type PublishTarget struct {
	AccountID   string
	IGUserID    string
	AccessToken string
	SchoolName  string
	LogoURL     string

	TemplateID     string
	PublishMode    entity.PublishMode
	Hashtags       []string
	BatchThreshold int
	Degraded       bool
}

// AccountDirectory resolves accounts to publish targets
type AccountDirectory interface {
	PublishTarget(ctx context.Context, accountID string) (*PublishTarget, error)
	MarkDegraded(ctx context.Context, accountID, reason string) error
}

// TemplateDirectory resolves template ids to render configurations
type TemplateDirectory interface {
	RenderConfig(ctx context.Context, templateID string) (render.Config, error)
}

// LogoFetcher retrieves a school logo by URL
type LogoFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Policy orchestrates the pipeline phases: render, publish, carousel
// formation and reconciliation. Each Process method is one scheduler tick.
type Policy struct {
	svc       *service.Service
	renderer  CardRenderer
	cdn       CDN
	graph     GraphPublisher
	accounts  AccountDirectory
	templates TemplateDirectory
	logos     LogoFetcher
	logger    *slog.Logger
}

// New creates a new pipeline policy
func New(
	svc *service.Service,
	renderer CardRenderer,
	cdn CDN,
	graph GraphPublisher,
	accounts AccountDirectory,
	templates TemplateDirectory,
	logos LogoFetcher,
	logger *slog.Logger,
) *Policy {
	return &Policy{
		svc:       svc,
		renderer:  renderer,
		cdn:       cdn,
		graph:     graph,
		accounts:  accounts,
		templates: templates,
		logos:     logos,
		logger:    logger,
	}
}

// Enqueue accepts an approved forum post. The account's publish mode decides
// whether the post becomes its own feed image or joins a carousel digest.
func (p *Policy) Enqueue(ctx context.Context, in service.EnqueueInput) (*entity.Post, error) {
	target, err := p.accounts.PublishTarget(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}

	if in.TemplateID == "" {
		in.TemplateID = target.TemplateID
	}
	if in.PublishMode == "" {
		in.PublishMode = target.PublishMode
	}

	return p.svc.Enqueue(ctx, in)
}

// GetPost retrieves a post by its public identifier
func (p *Policy) GetPost(ctx context.Context, publicID string) (*entity.Post, error) {
	return p.svc.GetPost(ctx, publicID)
}

// CancelPost pulls a post from the pipeline and removes its CDN image if one
// was already uploaded
func (p *Policy) CancelPost(ctx context.Context, publicID string) (*entity.Post, error) {
	post, err := p.svc.Cancel(ctx, publicID)
	if err != nil {
		return nil, err
	}

	if post.ImageURL != "" {
		if err := p.cdn.Delete(ctx, "", imageName(post)); err != nil {
			p.logger.Warn("leaving orphan image on cdn", "post", post.PublicID, "error", err)
		}
	}

	return post, nil
}

// Statistics aggregates pipeline counters for an account
func (p *Policy) Statistics(ctx context.Context, accountID string) (*entity.Statistics, error) {
	return p.svc.Statistics(ctx, accountID)
}

// ProcessRenderQueue renders pending posts with a bounded worker pool.
// Workers race on reservation, so running ticks back to back is safe.
func (p *Policy) ProcessRenderQueue(ctx context.Context, poolSize, batch int) error {
	posts, err := p.svc.ListForRender(ctx, batch)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, post := range posts {
		post := post
		g.Go(func() error {
			p.renderOne(ctx, post)
			return nil
		})
	}
	return g.Wait()
}

func (p *Policy) renderOne(ctx context.Context, post entity.Post) {
	token := uuid.New().String()
	ok, err := p.svc.ReserveForRender(ctx, post.ID, token)
	if err != nil {
		p.logger.Error("reserving post for render", "post", post.PublicID, "error", err)
		return
	}
	if !ok {
		return
	}
	post.Status = entity.StatusRendering

	log := p.logger.With("post", post.PublicID, "account", post.AccountID)

	target, err := p.accounts.PublishTarget(ctx, post.AccountID)
	if err != nil {
		if p.interrupted(ctx, err, post.ID, p.svc.ReleaseRender, log) {
			return
		}
		log.Error("resolving account", "error", err)
		p.fail(ctx, &post, service.ErrCodeRenderFailed, fmt.Sprintf("resolving account: %v", err), p.svc.FailRender)
		return
	}

	cfg, err := p.templates.RenderConfig(ctx, post.TemplateID)
	if err != nil {
		if p.interrupted(ctx, err, post.ID, p.svc.ReleaseRender, log) {
			return
		}
		log.Error("resolving template", "template", post.TemplateID, "error", err)
		p.fail(ctx, &post, service.ErrCodeRenderFailed, fmt.Sprintf("resolving template: %v", err), p.svc.FailRender)
		return
	}

	var logo []byte
	if cfg.Logo.Enabled && target.LogoURL != "" {
		logo, err = p.logos.Fetch(ctx, target.LogoURL)
		if err != nil {
			// A missing logo degrades the card, not the post
			log.Warn("fetching logo, rendering without it", "error", err)
			logo = nil
			cfg.Logo.Enabled = false
		}
	}

	img, err := p.renderer.Render(render.Content{
		ID:            post.ForumPostID,
		Title:         post.Title,
		Body:          post.Body,
		AuthorDisplay: post.AuthorDisplay,
		SchoolName:    target.SchoolName,
		CreatedAt:     post.ForumPostedAt,
	}, cfg, logo)
	if err != nil {
		log.Error("rendering card", "error", err)
		p.fail(ctx, &post, service.ErrCodeRenderFailed, err.Error(), p.svc.FailRender)
		return
	}

	post.Caption = composeCaption(post.Title, post.Body)
	url, err := p.cdn.Publish(ctx, img, "", imageNameFor(post.PublicID, cfg.Format))
	if err != nil {
		if p.interrupted(ctx, err, post.ID, p.svc.ReleaseRender, log) {
			return
		}
		log.Error("uploading card", "error", err)
		p.fail(ctx, &post, service.ErrCodeCDNUnavailable, err.Error(), p.svc.FailRender)
		return
	}

	if err := p.svc.CompleteRender(ctx, post.ID, url, post.Caption); err != nil {
		log.Error("completing render", "error", err)
		return
	}
	log.Info("card rendered", "url", url)
}

// fail applies a phase failure handler and logs persistence errors
func (p *Policy) fail(ctx context.Context, post *entity.Post, code, msg string, handler func(context.Context, *entity.Post, string, string) error) {
	if err := handler(ctx, post, code, msg); err != nil {
		p.logger.Error("recording failure", "post", post.PublicID, "error", err)
	}
}

// interrupted hands a reservation back when the error is a shutdown
// cancellation, so abandoning the work burns no retry. The release write
// runs on a detached context since the worker's own context is already done.
func (p *Policy) interrupted(ctx context.Context, err error, id string, release func(context.Context, string) error, log *slog.Logger) bool {
	if !errors.Is(err, context.Canceled) {
		return false
	}
	log.Info("worker interrupted, releasing reservation")
	if rerr := release(context.WithoutCancel(ctx), id); rerr != nil {
		log.Error("releasing reservation", "error", rerr)
	}
	return true
}

// ProcessInstantQueue publishes rendered instant-mode posts with a bounded
// worker pool
func (p *Policy) ProcessInstantQueue(ctx context.Context, poolSize, batch int) error {
	posts, err := p.svc.ListInstantReady(ctx, batch)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, post := range posts {
		post := post
		g.Go(func() error {
			p.publishOne(ctx, post)
			return nil
		})
	}
	return g.Wait()
}

func (p *Policy) publishOne(ctx context.Context, post entity.Post) {
	log := p.logger.With("post", post.PublicID, "account", post.AccountID)

	target, err := p.accounts.PublishTarget(ctx, post.AccountID)
	if err != nil {
		log.Error("resolving account", "error", err)
		return
	}
	if target.Degraded {
		// Publishing is paused until the token is fixed; post stays ready
		log.Debug("account degraded, skipping")
		return
	}

	token := uuid.New().String()
	ok, err := p.svc.ReserveForPublish(ctx, post.ID, token)
	if err != nil {
		log.Error("reserving post for publish", "error", err)
		return
	}
	if !ok {
		return
	}
	post.Status = entity.StatusPublishing

	pubCtx, cancel := context.WithTimeout(ctx, publishBudget)
	defer cancel()

	res, err := p.graph.PublishSingle(pubCtx, instagram.SingleInput{
		UserID:             target.IGUserID,
		AccessToken:        target.AccessToken,
		ImageURL:           post.ImageURL,
		Caption:            withHashtags(post.Caption, target.Hashtags),
		CorrelationID:      post.PublicID,
		PendingContainerID: post.PendingContainerID,
		OnContainer: func(containerID string) {
			if err := p.svc.SavePendingContainer(ctx, post.ID, containerID); err != nil {
				log.Error("saving pending container", "error", err)
			}
		},
	})
	if err != nil {
		p.handlePublishError(ctx, &post, target, err)
		return
	}

	if err := p.svc.CompletePublish(ctx, post.ID, res.MediaID, res.Permalink); err != nil {
		log.Error("completing publish", "error", err)
		return
	}
	log.Info("post published", "media_id", res.MediaID)
}

func (p *Policy) handlePublishError(ctx context.Context, post *entity.Post, target *PublishTarget, err error) {
	log := p.logger.With("post", post.PublicID, "account", post.AccountID)

	if p.interrupted(ctx, err, post.ID, p.svc.ReleasePublish, log) {
		return
	}

	switch instagram.ErrorKind(err) {
	case instagram.KindAuth:
		log.Warn("auth failure, degrading account", "error", err)
		if derr := p.accounts.MarkDegraded(ctx, target.AccountID, err.Error()); derr != nil {
			log.Error("marking account degraded", "error", derr)
		}
		// No retry counted; the post waits for a fresh token
		if rerr := p.svc.ReleasePublish(ctx, post.ID); rerr != nil {
			log.Error("releasing post", "error", rerr)
		}
	case instagram.KindInvalidInput:
		log.Error("publish rejected", "error", err)
		if ferr := p.svc.FailPost(ctx, post.ID, service.ErrCodeGraphInvalidInput, err.Error()); ferr != nil {
			log.Error("recording failure", "error", ferr)
		}
	default:
		log.Warn("publish failed, will retry", "error", err)
		p.fail(ctx, post, service.ErrCodeGraphTransient, err.Error(), p.svc.FailPublish)
	}
}

// FormCarousels bundles rendered batch posts into carousel groups, one pass
// over every account with backlog
func (p *Policy) FormCarousels(ctx context.Context) error {
	backlog, err := p.svc.BatchBacklog(ctx)
	if err != nil {
		return err
	}

	for _, b := range backlog {
		target, err := p.accounts.PublishTarget(ctx, b.AccountID)
		if err != nil {
			p.logger.Error("resolving account", "account", b.AccountID, "error", err)
			continue
		}

		g, err := p.svc.FormCarousel(ctx, b.AccountID, target.BatchThreshold, 10)
		if err != nil {
			p.logger.Error("forming carousel", "account", b.AccountID, "error", err)
			continue
		}
		if g != nil {
			p.logger.Info("carousel formed", "group", g.ID, "account", b.AccountID, "size", g.Size)
		}
	}

	return nil
}

// ProcessCarouselQueue publishes ready carousel groups with a bounded worker
// pool
func (p *Policy) ProcessCarouselQueue(ctx context.Context, poolSize, batch int) error {
	groups, err := p.svc.ListReadyGroups(ctx, batch)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			p.publishGroup(ctx, group)
			return nil
		})
	}
	return g.Wait()
}

func (p *Policy) publishGroup(ctx context.Context, group entity.CarouselGroup) {
	log := p.logger.With("group", group.ID, "account", group.AccountID)

	target, err := p.accounts.PublishTarget(ctx, group.AccountID)
	if err != nil {
		log.Error("resolving account", "error", err)
		return
	}
	if target.Degraded {
		log.Debug("account degraded, skipping")
		return
	}

	ok, err := p.svc.ReserveGroup(ctx, group.ID)
	if err != nil {
		log.Error("reserving group", "error", err)
		return
	}
	if !ok {
		return
	}
	group.Status = entity.GroupStatusProcessing

	members, err := p.svc.GroupMembers(ctx, group.ID)
	if err != nil {
		log.Error("loading group members", "error", err)
		if rerr := p.svc.ReleaseGroup(ctx, group.ID); rerr != nil {
			log.Error("releasing group", "error", rerr)
		}
		return
	}

	items := make([]instagram.CarouselItem, len(members))
	for i, m := range members {
		items[i] = instagram.CarouselItem{
			ImageURL:           m.ImageURL,
			PendingContainerID: m.PendingContainerID,
		}
	}

	// The parent container carries the caption of the lead member
	var caption string
	if len(members) > 0 {
		caption = members[0].Caption
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishBudget)
	defer cancel()

	res, err := p.graph.PublishCarousel(pubCtx, instagram.CarouselInput{
		UserID:             target.IGUserID,
		AccessToken:        target.AccessToken,
		Items:              items,
		Caption:            withHashtags(caption, target.Hashtags),
		CorrelationID:      group.ID,
		PendingContainerID: group.PendingContainerID,
		OnChildContainer: func(i int, containerID string) {
			if err := p.svc.SavePendingContainer(ctx, members[i].ID, containerID); err != nil {
				log.Error("saving child container", "member", members[i].PublicID, "error", err)
			}
		},
		OnContainer: func(containerID string) {
			if err := p.svc.SaveGroupContainer(ctx, group.ID, containerID); err != nil {
				log.Error("saving group container", "error", err)
			}
		},
	})
	if err != nil {
		p.handleGroupError(ctx, &group, target, members, err)
		return
	}

	if err := p.svc.CompleteGroup(ctx, group.ID, res.MediaID, res.Permalink); err != nil {
		log.Error("completing group", "error", err)
		return
	}
	log.Info("carousel published", "media_id", res.MediaID, "size", len(members))
}

func (p *Policy) handleGroupError(ctx context.Context, group *entity.CarouselGroup, target *PublishTarget, members []entity.Post, err error) {
	log := p.logger.With("group", group.ID, "account", group.AccountID)

	if p.interrupted(ctx, err, group.ID, p.svc.ReleaseGroup, log) {
		return
	}

	switch instagram.ErrorKind(err) {
	case instagram.KindAuth:
		log.Warn("auth failure, degrading account", "error", err)
		if derr := p.accounts.MarkDegraded(ctx, target.AccountID, err.Error()); derr != nil {
			log.Error("marking account degraded", "error", derr)
		}
		if rerr := p.svc.ReleaseGroup(ctx, group.ID); rerr != nil {
			log.Error("releasing group", "error", rerr)
		}
	case instagram.KindInvalidInput:
		offender := findOffender(ctx, p.svc, members)
		if offender == nil {
			// The parent container itself was rejected with every child
			// intact. With no member to single out, park them all; a
			// re-formed group could only repeat the rejection.
			log.Error("carousel rejected with no failing member, parking group", "error", err)
			if ferr := p.svc.FailGroupFinal(ctx, group.ID, service.ErrCodeGraphInvalidInput, err.Error()); ferr != nil {
				log.Error("recording group failure", "error", ferr)
			}
			return
		}

		// One bad child poisons the whole carousel: dissolve the group,
		// park the offending member, return the rest to the pool
		log.Warn("carousel rejected, rolling back group", "member", offender.PublicID, "error", err)
		if rerr := p.svc.RollbackGroup(ctx, group.ID, service.ErrCodeGraphInvalidInput, err.Error()); rerr != nil {
			log.Error("rolling back group", "error", rerr)
			return
		}
		if ferr := p.svc.FailPost(ctx, offender.ID, service.ErrCodeGraphInvalidInput, err.Error()); ferr != nil {
			log.Error("recording member failure", "error", ferr)
		}
	default:
		log.Warn("carousel publish failed, will retry", "error", err)
		if ferr := p.svc.FailGroup(ctx, group, service.ErrCodeGraphTransient, err.Error()); ferr != nil {
			log.Error("recording group failure", "error", ferr)
		}
	}
}

// findOffender locates the first member whose child container was never
// created. Child containers are created in order, so the failing item is the
// first one still without an id.
func findOffender(ctx context.Context, svc *service.Service, members []entity.Post) *entity.Post {
	for i := range members {
		current, err := svc.GetPost(ctx, members[i].PublicID)
		if err != nil {
			return nil
		}
		if current.PendingContainerID == "" {
			return current
		}
	}
	return nil
}

// ReconcileStuck recovers posts stranded in a working status by a dead
// worker. Stuck renders go back to pending. Stuck publishes are checked
// against the Graph side first so a post never publishes twice.
func (p *Policy) ReconcileStuck(ctx context.Context, olderThan time.Duration) error {
	posts, err := p.svc.StuckPosts(ctx, olderThan)
	if err != nil {
		return err
	}

	for _, post := range posts {
		post := post
		log := p.logger.With("post", post.PublicID, "status", string(post.Status))

		switch post.Status {
		case entity.StatusRendering:
			log.Warn("requeueing stuck render")
			p.fail(ctx, &post, service.ErrCodeReconciledMissing, "render worker lost", p.svc.FailRender)

		case entity.StatusPublishing:
			if post.PendingContainerID == "" {
				log.Warn("requeueing stuck publish, no container created")
				p.fail(ctx, &post, service.ErrCodeReconciledMissing, "publish worker lost", p.svc.FailPublish)
				continue
			}

			target, err := p.accounts.PublishTarget(ctx, post.AccountID)
			if err != nil {
				log.Error("resolving account", "error", err)
				continue
			}

			status, err := p.graph.ContainerStatus(ctx, post.PendingContainerID, target.AccessToken, post.PublicID)
			if err != nil {
				log.Error("checking container", "error", err)
				continue
			}

			if status == instagram.ContainerStatusPublished {
				// The crash happened after media_publish went through.
				// Fetch the real media id and permalink before completing;
				// a failed lookup leaves the post for the next pass.
				info, ierr := p.graph.MediaInfo(ctx, post.PendingContainerID, target.AccessToken, post.PublicID)
				if ierr != nil {
					log.Error("fetching reconciled media", "error", ierr)
					continue
				}
				log.Warn("container already published, completing post", "media_id", info.ID)
				if err := p.svc.ResolveStuckPublished(ctx, post.ID, info.ID, info.Permalink); err != nil {
					log.Error("completing reconciled post", "error", err)
				}
				continue
			}

			log.Warn("requeueing stuck publish", "container_status", string(status))
			p.fail(ctx, &post, service.ErrCodeReconciledMissing, "publish worker lost", p.svc.FailPublish)
		}
	}

	return nil
}

// composeCaption builds the caption from the forum content. Hashtags are
// appended later at publish time so caption text is stable across retries.
func composeCaption(title, body string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
	}
	if body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(body)
	}
	return truncateRunes(b.String(), captionLimit-200)
}

// withHashtags appends account hashtags, truncating the caption body if the
// combined text would exceed the Graph limit
func withHashtags(caption string, tags []string) string {
	if len(tags) == 0 {
		return caption
	}

	suffix := "\n\n" + strings.Join(tags, " ")
	if len([]rune(suffix)) >= captionLimit {
		return truncateRunes(caption, captionLimit)
	}

	room := captionLimit - len([]rune(suffix))
	return truncateRunes(caption, room) + suffix
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func imageName(p *entity.Post) string {
	return imageNameFor(p.PublicID, imageExtOf(p.ImageURL))
}

func imageNameFor(publicID, format string) string {
	if format == "png" {
		return publicID + ".png"
	}
	return publicID + ".jpg"
}

func imageExtOf(url string) string {
	if strings.HasSuffix(url, ".png") {
		return "png"
	}
	return "jpeg"
}
