// Package cache holds the process-wide shadow copy of user profiles.
//
// Entries live for the whole process and are only replaced by profile writes
// made through this process. Edits made directly in the spreadsheet are not
// seen until Invalidate or Reset is called.
package cache

import (
	"sync"

	"secretary/internal/model"
)

// Users maps a user id to the last profile this process read or wrote.
type Users struct {
	mu      sync.RWMutex
	entries map[int64]model.UserProfile
}

func NewUsers() *Users {
	return &Users{entries: make(map[int64]model.UserProfile)}
}

func (c *Users) Get(id int64) (model.UserProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

func (c *Users) Put(id int64, profile model.UserProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = profile
}

// Update applies fn to a cached entry and reports whether one existed.
func (c *Users) Update(id int64, fn func(*model.UserProfile)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[id]
	if !ok {
		return false
	}
	fn(&p)
	c.entries[id] = p
	return true
}

func (c *Users) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Reset drops every entry and returns how many there were.
func (c *Users) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[int64]model.UserProfile)
	return n
}

func (c *Users) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
