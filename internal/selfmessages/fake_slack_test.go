package selfmessages

import (
	"context"
	"errors"
	"sync"
)

type fakeSlack struct {
	mu    sync.Mutex
	calls map[string]int

	whoAmI      func(ctx context.Context) (string, error)
	search      func(ctx context.Context, query string, page, pageSize int) (*SearchPage, error)
	counterpart func(ctx context.Context, conversationID string) (string, error)
	members     func(ctx context.Context, conversationID string) ([]string, error)
	userInfo    func(ctx context.Context, userID string) (*UserProfile, error)
}

func newFakeSlack() *fakeSlack {
	return &fakeSlack{calls: make(map[string]int)}
}

func (f *fakeSlack) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *fakeSlack) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeSlack) WhoAmI(ctx context.Context) (string, error) {
	f.record("auth.test")
	if f.whoAmI == nil {
		return "USELF", nil
	}
	return f.whoAmI(ctx)
}

func (f *fakeSlack) SearchMessages(ctx context.Context, query string, page, pageSize int) (*SearchPage, error) {
	f.record("search.messages")
	if f.search == nil {
		return &SearchPage{}, nil
	}
	return f.search(ctx, query, page, pageSize)
}

func (f *fakeSlack) ConversationCounterpart(ctx context.Context, conversationID string) (string, error) {
	f.record("conversations.info")
	if f.counterpart == nil {
		return "", errors.New("not stubbed")
	}
	return f.counterpart(ctx, conversationID)
}

func (f *fakeSlack) ConversationMembers(ctx context.Context, conversationID string) ([]string, error) {
	f.record("conversations.members")
	if f.members == nil {
		return nil, errors.New("not stubbed")
	}
	return f.members(ctx, conversationID)
}

func (f *fakeSlack) UserInfo(ctx context.Context, userID string) (*UserProfile, error) {
	f.record("users.info")
	if f.userInfo == nil {
		return nil, errors.New("not stubbed")
	}
	return f.userInfo(ctx, userID)
}

func profiles(byID map[string]*UserProfile) func(context.Context, string) (*UserProfile, error) {
	return func(_ context.Context, id string) (*UserProfile, error) {
		if p, ok := byID[id]; ok {
			return p, nil
		}
		return nil, &APIError{Method: "users.info", Code: "user_not_found"}
	}
}

func channelMatch(ts, text, id, name string) SearchMatch {
	return SearchMatch{Timestamp: ts, Text: text, Conversation: ConversationRef{ID: id, Name: name}}
}

func dmMatch(ts, text, id string) SearchMatch {
	return SearchMatch{Timestamp: ts, Text: text, Conversation: ConversationRef{ID: id, IsIM: true}}
}

func groupMatch(ts, text, id string) SearchMatch {
	return SearchMatch{Timestamp: ts, Text: text, Conversation: ConversationRef{ID: id, Name: "mpdm-x", IsMPIM: true, IsPrivate: true}}
}
