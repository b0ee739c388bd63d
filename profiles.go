package chatapp

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProfileCache memoizes user profiles in front of the users/info endpoint,
// so rendering a message from an unfamiliar sender does not refetch the
// same profile on every frame.
type ProfileCache struct {
	client *Client
	cache  *lru.Cache[int64, User]
}

// NewProfileCache creates a profile cache holding up to size entries.
func NewProfileCache(client *Client, size int) (*ProfileCache, error) {
	c, err := lru.New[int64, User](size)
	if err != nil {
		return nil, err
	}
	return &ProfileCache{client: client, cache: c}, nil
}

// Get returns the profile for userID, fetching and caching it on a miss.
func (p *ProfileCache) Get(ctx context.Context, userID int64) (User, error) {
	if u, ok := p.cache.Get(userID); ok {
		return u, nil
	}
	u, err := p.client.UserInfo(ctx, userID)
	if err != nil {
		return User{}, err
	}
	p.cache.Add(userID, *u)
	return *u, nil
}

// Invalidate drops a cached profile.
func (p *ProfileCache) Invalidate(userID int64) {
	p.cache.Remove(userID)
}
