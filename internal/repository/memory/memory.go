// Package memory provides an in-process implementation of the repository
// interfaces. It backs tests and single-node development setups.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/repository"
)

type mergeRequest struct {
	event     domain.CanonicalEvent
	status    domain.MergeRequestStatus
	commentID string
	updatedAt time.Time
}

// Store keeps merge requests, leases and stacks in maps guarded by a mutex.
type Store struct {
	mu            sync.RWMutex
	mergeRequests map[string]*mergeRequest
	leases        map[domain.LeaseKey]domain.PortLease
	stacks        map[string]domain.StackRecord
	now           func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		mergeRequests: make(map[string]*mergeRequest),
		leases:        make(map[domain.LeaseKey]domain.PortLease),
		stacks:        make(map[string]domain.StackRecord),
		now:           time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

func key(projectID, mrID string) string {
	return projectID + "/" + mrID
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// UpdateMergeRequest upserts the merge request and its status.
func (s *Store) UpdateMergeRequest(_ context.Context, event domain.CanonicalEvent, status domain.MergeRequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(event.ProjectID, event.MRID)
	mr, ok := s.mergeRequests[k]
	if !ok {
		mr = &mergeRequest{}
		s.mergeRequests[k] = mr
	}
	mr.event = event
	mr.status = status
	mr.updatedAt = s.now()
	return nil
}

// GetLastCommitSHA returns the commit recorded with the latest update.
func (s *Store) GetLastCommitSHA(_ context.Context, projectID, mrID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.mergeRequests[key(projectID, mrID)]
	if !ok {
		return "", repository.ErrNotFound
	}
	return mr.event.CommitSHA, nil
}

// MergeRequestStatus exposes the recorded status, mostly for tests.
func (s *Store) MergeRequestStatus(projectID, mrID string) (domain.MergeRequestStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.mergeRequests[key(projectID, mrID)]
	if !ok {
		return "", false
	}
	return mr.status, true
}

// GetCommentID returns the stored bot comment id.
func (s *Store) GetCommentID(_ context.Context, projectID, mrID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.mergeRequests[key(projectID, mrID)]
	if !ok || mr.commentID == "" {
		return "", repository.ErrNotFound
	}
	return mr.commentID, nil
}

// SetCommentID stores the bot comment id.
func (s *Store) SetCommentID(_ context.Context, projectID, mrID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(projectID, mrID)
	mr, ok := s.mergeRequests[k]
	if !ok {
		mr = &mergeRequest{event: domain.CanonicalEvent{ProjectID: projectID, MRID: mrID}}
		s.mergeRequests[k] = mr
	}
	mr.commentID = commentID
	return nil
}

// FindLease looks up a lease by its key.
func (s *Store) FindLease(_ context.Context, k domain.LeaseKey) (*domain.PortLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lease, ok := s.leases[k]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lease, nil
}

// UsedPorts returns every leased port except the excluded lease.
func (s *Store) UsedPorts(_ context.Context, exclude *domain.LeaseKey) (map[int]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	used := make(map[int]struct{}, len(s.leases))
	for k, lease := range s.leases {
		if exclude != nil && k == *exclude {
			continue
		}
		used[lease.ExternalPort] = struct{}{}
	}
	return used, nil
}

// InsertLease stores a new lease, enforcing key and port uniqueness.
func (s *Store) InsertLease(_ context.Context, lease domain.PortLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[lease.Key()]; ok {
		return fmt.Errorf("lease %s/%s/%s/%s already exists", lease.ProjectID, lease.MRID, lease.Service, lease.SlotName)
	}
	for _, existing := range s.leases {
		if existing.ExternalPort == lease.ExternalPort {
			return fmt.Errorf("external port %d already leased", lease.ExternalPort)
		}
	}
	s.leases[lease.Key()] = lease
	return nil
}

// UpdateLeasePort re-points an existing lease to another external port.
func (s *Store) UpdateLeasePort(_ context.Context, k domain.LeaseKey, externalPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[k]
	if !ok {
		return repository.ErrNotFound
	}
	for other, existing := range s.leases {
		if other != k && existing.ExternalPort == externalPort {
			return fmt.Errorf("external port %d already leased", externalPort)
		}
	}
	lease.ExternalPort = externalPort
	s.leases[k] = lease
	return nil
}

// DeleteLeases removes every lease of a merge request.
func (s *Store) DeleteLeases(_ context.Context, projectID, mrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.leases {
		if k.ProjectID == projectID && k.MRID == mrID {
			delete(s.leases, k)
		}
	}
	return nil
}

// LeasesFor lists the leases of a merge request ordered by service and slot.
func (s *Store) LeasesFor(_ context.Context, projectID, mrID string) ([]domain.PortLease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leases := make([]domain.PortLease, 0)
	for k, lease := range s.leases {
		if k.ProjectID == projectID && k.MRID == mrID {
			leases = append(leases, lease)
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		if leases[i].Service != leases[j].Service {
			return leases[i].Service < leases[j].Service
		}
		return leases[i].SlotName < leases[j].SlotName
	})
	return leases, nil
}

// SaveStack upserts a stack record.
func (s *Store) SaveStack(_ context.Context, stack domain.StackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(stack.ProjectID, stack.MRID)
	now := s.now()
	if existing, ok := s.stacks[k]; ok {
		stack.CreatedAt = existing.CreatedAt
	} else {
		stack.CreatedAt = now
	}
	stack.UpdatedAt = now
	s.stacks[k] = cloneStack(stack)
	return nil
}

// GetStack fetches a stack record.
func (s *Store) GetStack(_ context.Context, projectID, mrID string) (*domain.StackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, ok := s.stacks[key(projectID, mrID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	stack = cloneStack(stack)
	return &stack, nil
}

// UpdateStackStatus changes the status of an existing record.
func (s *Store) UpdateStackStatus(_ context.Context, projectID, mrID string, status domain.StackStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(projectID, mrID)
	stack, ok := s.stacks[k]
	if !ok {
		return repository.ErrNotFound
	}
	stack.Status = status
	stack.UpdatedAt = s.now()
	s.stacks[k] = stack
	return nil
}

// RemoveStack deletes a record; missing records are ignored.
func (s *Store) RemoveStack(_ context.Context, projectID, mrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, key(projectID, mrID))
	return nil
}

// ListStacks returns all records, most recently updated first.
func (s *Store) ListStacks(context.Context) ([]domain.StackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stacks := make([]domain.StackRecord, 0, len(s.stacks))
	for _, stack := range s.stacks {
		stacks = append(stacks, cloneStack(stack))
	}
	sort.Slice(stacks, func(i, j int) bool {
		if stacks[i].UpdatedAt.Equal(stacks[j].UpdatedAt) {
			return key(stacks[i].ProjectID, stacks[i].MRID) < key(stacks[j].ProjectID, stacks[j].MRID)
		}
		return stacks[i].UpdatedAt.After(stacks[j].UpdatedAt)
	})
	return stacks, nil
}

func cloneStack(stack domain.StackRecord) domain.StackRecord {
	ports := make(map[string]int, len(stack.Ports))
	for k, v := range stack.Ports {
		ports[k] = v
	}
	links := make(map[string]string, len(stack.Links))
	for k, v := range stack.Links {
		links[k] = v
	}
	stack.Ports = ports
	stack.Links = links
	return stack
}
