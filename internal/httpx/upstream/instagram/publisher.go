package instagram

import (
	"context"
	"fmt"
	"time"
)

// Publisher handles the two-phase publishing workflow for Instagram content
type Publisher struct {
	client       *Client
	pollInterval time.Duration
	maxPolls     int
}

// PublisherOption configures the Publisher
type PublisherOption func(*Publisher)

// WithPollInterval sets the container readiness poll interval
func WithPollInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithMaxPolls bounds container readiness polls
func WithMaxPolls(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxPolls = n
		}
	}
}

// NewPublisher creates a new Instagram publisher
func NewPublisher(client *Client, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:       client,
		pollInterval: 6 * time.Second,
		maxPolls:     5,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SingleInput represents input for publishing a single image post.
// PendingContainerID, when set, resumes a previous attempt that already
// created a container; OnContainer is invoked as soon as a container id is
// known so the caller can persist it before the publish step.
type SingleInput struct {
	UserID             string
	AccessToken        string
	ImageURL           string
	Caption            string
	CorrelationID      string
	PendingContainerID string
	OnContainer        func(containerID string)
}

// CarouselItem is one child of a carousel in display order
type CarouselItem struct {
	ImageURL           string
	PendingContainerID string
}

// CarouselInput represents input for publishing a carousel post
type CarouselInput struct {
	UserID             string
	AccessToken        string
	Items              []CarouselItem
	Caption            string
	CorrelationID      string
	PendingContainerID string
	OnChildContainer   func(index int, containerID string)
	OnContainer        func(containerID string)
}

// Result represents a successfully published media
type Result struct {
	MediaID     string
	Permalink   string
	ContainerID string
}

// PublishSingle publishes one image as a feed post.
// Workflow: create container (or reuse a pending one) -> wait until the
// container is ready -> publish -> fetch permalink.
func (p *Publisher) PublishSingle(ctx context.Context, in SingleInput) (*Result, error) {
	containerID := in.PendingContainerID
	if containerID == "" {
		id, err := p.client.CreateImageContainer(ctx, CreateImageContainerInput{
			UserID:        in.UserID,
			AccessToken:   in.AccessToken,
			ImageURL:      in.ImageURL,
			Caption:       in.Caption,
			CorrelationID: in.CorrelationID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating media container: %w", err)
		}
		containerID = id
		if in.OnContainer != nil {
			in.OnContainer(containerID)
		}
	}

	if err := p.waitForContainer(ctx, containerID, in.AccessToken, in.CorrelationID); err != nil {
		return nil, fmt.Errorf("waiting for container: %w", err)
	}

	return p.publishContainer(ctx, in.UserID, in.AccessToken, containerID, in.CorrelationID)
}

// PublishCarousel publishes a multi-image carousel post.
// Child containers are created in item order; items that already carry a
// pending container id from a previous attempt are reused as-is.
func (p *Publisher) PublishCarousel(ctx context.Context, in CarouselInput) (*Result, error) {
	childIDs := make([]string, len(in.Items))

	for i, item := range in.Items {
		if item.PendingContainerID != "" {
			childIDs[i] = item.PendingContainerID
			continue
		}

		childID, err := p.client.CreateCarouselItemContainer(ctx, CreateCarouselItemContainerInput{
			UserID:        in.UserID,
			AccessToken:   in.AccessToken,
			ImageURL:      item.ImageURL,
			CorrelationID: in.CorrelationID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating carousel item %d: %w", i, err)
		}
		childIDs[i] = childID
		if in.OnChildContainer != nil {
			in.OnChildContainer(i, childID)
		}
	}

	containerID := in.PendingContainerID
	if containerID == "" {
		id, err := p.client.CreateCarouselContainer(ctx, CreateCarouselContainerInput{
			UserID:        in.UserID,
			AccessToken:   in.AccessToken,
			Children:      childIDs,
			Caption:       in.Caption,
			CorrelationID: in.CorrelationID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating carousel container: %w", err)
		}
		containerID = id
		if in.OnContainer != nil {
			in.OnContainer(containerID)
		}
	}

	if err := p.waitForContainer(ctx, containerID, in.AccessToken, in.CorrelationID); err != nil {
		return nil, fmt.Errorf("waiting for carousel container: %w", err)
	}

	return p.publishContainer(ctx, in.UserID, in.AccessToken, containerID, in.CorrelationID)
}

// ContainerStatus checks a container without publishing it. The reconciler
// uses it to learn whether a crashed worker got as far as media_publish.
func (p *Publisher) ContainerStatus(ctx context.Context, containerID, accessToken, correlationID string) (ContainerStatus, error) {
	out, err := p.client.GetContainerStatus(ctx, GetContainerStatusInput{
		ContainerID:   containerID,
		AccessToken:   accessToken,
		CorrelationID: correlationID,
	})
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

// MediaInfo retrieves details of a published media
func (p *Publisher) MediaInfo(ctx context.Context, mediaID, accessToken, correlationID string) (*MediaInfo, error) {
	return p.client.GetMediaInfo(ctx, GetMediaInfoInput{
		MediaID:       mediaID,
		AccessToken:   accessToken,
		CorrelationID: correlationID,
	})
}

// RefreshToken exchanges a long-lived token for a fresh one
func (p *Publisher) RefreshToken(ctx context.Context, accessToken, correlationID string) (*RefreshLongLivedTokenOutput, error) {
	return p.client.RefreshLongLivedToken(ctx, RefreshLongLivedTokenInput{
		AccessToken:   accessToken,
		CorrelationID: correlationID,
	})
}

// waitForContainer polls a container until it is ready for publishing
func (p *Publisher) waitForContainer(ctx context.Context, containerID, accessToken, correlationID string) error {
	for i := 0; i < p.maxPolls; i++ {
		status, err := p.client.GetContainerStatus(ctx, GetContainerStatusInput{
			ContainerID:   containerID,
			AccessToken:   accessToken,
			CorrelationID: correlationID,
		})
		if err != nil {
			return fmt.Errorf("checking container status: %w", err)
		}

		switch status.Status {
		case ContainerStatusFinished, ContainerStatusPublished:
			return nil
		case ContainerStatusError:
			return &APIError{
				Message:    fmt.Sprintf("container processing failed: %s", status.ErrorMessage),
				HTTPStatus: 0,
				Kind:       KindInvalidInput,
			}
		case ContainerStatusExpired:
			return &APIError{
				Message: "container expired",
				Kind:    KindInvalidInput,
			}
		case ContainerStatusInProgress:
			// Keep polling
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}

	return &APIError{
		Message: "media not ready after polling",
		Code:    codeMediaNotReady,
		Kind:    KindTransient,
	}
}

// publishContainer publishes a ready container and fetches the permalink.
// A failed permalink lookup is non-fatal since the media id is already known.
func (p *Publisher) publishContainer(ctx context.Context, userID, accessToken, containerID, correlationID string) (*Result, error) {
	mediaID, err := p.client.PublishContainer(ctx, PublishContainerInput{
		UserID:        userID,
		AccessToken:   accessToken,
		ContainerID:   containerID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("publishing media: %w", err)
	}

	res := &Result{
		MediaID:     mediaID,
		ContainerID: containerID,
	}

	info, err := p.client.GetMediaInfo(ctx, GetMediaInfoInput{
		MediaID:       mediaID,
		AccessToken:   accessToken,
		CorrelationID: correlationID,
	})
	if err == nil {
		res.Permalink = info.Permalink
	}

	return res, nil
}
