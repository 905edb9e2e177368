package selfmessages

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

const (
	unknownUser         = "Unknown User"
	unknownConversation = "unknown"
	placeholderIDLength = 8
)

// DirectoryClient performs the auxiliary lookups used to name DMs and group DMs.
type DirectoryClient interface {
	// ConversationCounterpart returns the other user of a direct message.
	ConversationCounterpart(ctx context.Context, conversationID string) (string, error)
	ConversationMembers(ctx context.Context, conversationID string) ([]string, error)
	UserInfo(ctx context.Context, userID string) (*UserProfile, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// MemberConcurrency bounds parallel user lookups for group DMs. 1 resolves members sequentially.
	MemberConcurrency int
	Logger            *log.Logger
}

// Resolver turns conversation references into labels. A Resolver belongs to one run:
// labels are cached by conversation id for the lifetime of the Resolver.
type Resolver struct {
	client      DirectoryClient
	selfUserID  string
	concurrency int
	cache       map[string]ConversationLabel
	logger      *log.Logger
	metrics     *instruments
}

// NewResolver constructs a Resolver for the run of selfUserID.
func NewResolver(client DirectoryClient, selfUserID string, opts ResolverOptions) *Resolver {
	concurrency := opts.MemberConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		client:      client,
		selfUserID:  selfUserID,
		concurrency: concurrency,
		cache:       make(map[string]ConversationLabel),
		logger:      logger,
		metrics:     defaultInstruments,
	}
}

// Classify returns the kind a reference resolves to. It never performs lookups.
func Classify(ref ConversationRef) ConversationKind {
	switch {
	case ref.ID == "":
		return KindUnknown
	case ref.IsIM:
		return KindDM
	case ref.IsMPIM:
		return KindGroupDM
	case ref.Name != "":
		if ref.IsPrivate {
			return KindPrivateChannel
		}
		return KindPublicChannel
	default:
		return KindUnknown
	}
}

// Cached reports whether the conversation has already been resolved in this run.
func (r *Resolver) Cached(conversationID string) bool {
	_, ok := r.cache[conversationID]
	return ok
}

// Resolve returns the label of ref. Lookup failures degrade to placeholder labels and
// are never returned as errors.
func (r *Resolver) Resolve(ctx context.Context, ref ConversationRef) ConversationLabel {
	if ref.ID == "" {
		return ConversationLabel{DisplayName: unknownConversation, Kind: KindUnknown}
	}
	if label, ok := r.cache[ref.ID]; ok {
		return label
	}

	ctx, span := tracer.Start(ctx, "selfmessages.resolver.resolve")
	defer span.End()

	kind := Classify(ref)
	var label ConversationLabel
	switch kind {
	case KindDM:
		label = ConversationLabel{DisplayName: norm.NFC.String(r.directMessageName(ctx, ref.ID)), Kind: KindDM}
	case KindGroupDM:
		label = ConversationLabel{DisplayName: norm.NFC.String(r.groupMessageName(ctx, ref.ID)), Kind: KindGroupDM}
	case KindPublicChannel, KindPrivateChannel:
		label = ConversationLabel{DisplayName: ref.Name, Kind: kind}
	default:
		label = ConversationLabel{DisplayName: ref.ID, Kind: KindUnknown}
	}

	span.SetAttributes(
		attribute.String("slack.conversation_kind", string(label.Kind)),
	)
	r.cache[ref.ID] = label
	return label
}

func (r *Resolver) directMessageName(ctx context.Context, conversationID string) string {
	placeholder := fmt.Sprintf("DM (%s...)", shortID(conversationID))

	userID, err := r.client.ConversationCounterpart(ctx, conversationID)
	if err != nil || userID == "" {
		r.degraded(ctx, KindDM, conversationID, "conversations.info", err)
		return placeholder
	}

	profile, err := r.client.UserInfo(ctx, userID)
	if err != nil {
		r.degraded(ctx, KindDM, conversationID, "users.info", err)
		return placeholder
	}
	return profile.Name()
}

func (r *Resolver) groupMessageName(ctx context.Context, conversationID string) string {
	placeholder := fmt.Sprintf("Group DM (%s...)", shortID(conversationID))

	members, err := r.client.ConversationMembers(ctx, conversationID)
	if err != nil {
		r.degraded(ctx, KindGroupDM, conversationID, "conversations.members", err)
		return placeholder
	}

	others := make([]string, 0, len(members))
	for _, id := range members {
		if id != r.selfUserID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return placeholder
	}

	names := make([]string, len(others))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, memberID := range others {
		g.Go(func() error {
			profile, err := r.client.UserInfo(gctx, memberID)
			if err != nil {
				r.logger.Printf("users.info failed user=%s conversation=%s: %v", memberID, conversationID, err)
				names[i] = unknownUser
				return nil
			}
			names[i] = profile.Name()
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(names, ", ")
}

func (r *Resolver) degraded(ctx context.Context, kind ConversationKind, conversationID, method string, err error) {
	if err == nil {
		err = fmt.Errorf("empty response")
	}
	r.logger.Printf("%s failed conversation=%s, using placeholder: %v", method, conversationID, err)
	r.metrics.recordDegraded(ctx, kind)
}

func shortID(id string) string {
	if len(id) <= placeholderIDLength {
		return id
	}
	return id[:placeholderIDLength]
}
