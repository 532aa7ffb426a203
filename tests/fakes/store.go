// Package fakes holds in-memory test doubles shared across packages.
package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lgtm-migrator/amplify-ci-support/pkg/secretstore"
)

// Store is an in-memory secretstore.Store with real label semantics:
// one holder per label, atomic relabeling, idempotent staging tokens.
type Store struct {
	mu      sync.Mutex
	secrets map[string]*fakeSecret

	// FailRelabel, when set, makes Relabel return the error once.
	FailRelabel error
	// InvalidateCalls counts Invalidate invocations per credential.
	InvalidateCalls map[string]int
	// FailInvalidate, when set, makes Invalidate always fail.
	FailInvalidate error
}

type fakeSecret struct {
	versions map[string]*fakeVersion
}

type fakeVersion struct {
	value     string
	labels    map[secretstore.Label]bool
	createdAt time.Time
}

// NewStore creates an empty fake store.
func NewStore() *Store {
	return &Store{
		secrets:         map[string]*fakeSecret{},
		InvalidateCalls: map[string]int{},
	}
}

// Seed installs a version with the given labels, creating the credential
// if needed.
func (s *Store) Seed(id, versionID, value string, labels ...secretstore.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secrets[id]
	if sec == nil {
		sec = &fakeSecret{versions: map[string]*fakeVersion{}}
		s.secrets[id] = sec
	}
	labelSet := map[secretstore.Label]bool{}
	for _, l := range labels {
		for _, v := range sec.versions {
			delete(v.labels, l)
		}
		labelSet[l] = true
	}
	sec.versions[versionID] = &fakeVersion{value: value, labels: labelSet, createdAt: time.Now()}
}

// Labeled returns the version id currently holding label, or "".
func (s *Store) Labeled(id string, label secretstore.Label) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secrets[id]
	if sec == nil {
		return ""
	}
	for versionID, v := range sec.versions {
		if v.labels[label] {
			return versionID
		}
	}
	return ""
}

func (s *Store) GetLabeled(_ context.Context, id string, label secretstore.Label) (*secretstore.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secrets[id]
	if sec == nil {
		return nil, secretstore.NotFoundError{ID: id}
	}
	for versionID, v := range sec.versions {
		if v.labels[label] {
			return versionFor(versionID, v), nil
		}
	}
	return nil, secretstore.StaleReadError{ID: id, Label: label}
}

func (s *Store) PutPending(_ context.Context, id, value, ownerToken string) (*secretstore.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.secrets[id]
	if sec == nil {
		return nil, secretstore.NotFoundError{ID: id}
	}

	if existing, ok := sec.versions[ownerToken]; ok {
		if existing.value != value {
			return nil, fmt.Errorf("version %q already exists with different contents", ownerToken)
		}
		return versionFor(ownerToken, existing), nil
	}

	for _, v := range sec.versions {
		delete(v.labels, secretstore.LabelPending)
	}
	v := &fakeVersion{
		value:     value,
		labels:    map[secretstore.Label]bool{secretstore.LabelPending: true},
		createdAt: time.Now(),
	}
	sec.versions[ownerToken] = v
	return versionFor(ownerToken, v), nil
}

func (s *Store) Relabel(_ context.Context, id string) (*secretstore.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailRelabel != nil {
		err := s.FailRelabel
		s.FailRelabel = nil
		return nil, err
	}

	sec := s.secrets[id]
	if sec == nil {
		return nil, secretstore.NotFoundError{ID: id}
	}

	var pendingID, currentID string
	for versionID, v := range sec.versions {
		if v.labels[secretstore.LabelPending] {
			pendingID = versionID
		}
		if v.labels[secretstore.LabelCurrent] {
			currentID = versionID
		}
	}
	if pendingID == "" {
		return nil, secretstore.StaleReadError{ID: id, Label: secretstore.LabelPending}
	}

	// Single atomic swap under the lock.
	for _, v := range sec.versions {
		delete(v.labels, secretstore.LabelPrevious)
	}
	if currentID != "" && currentID != pendingID {
		delete(sec.versions[currentID].labels, secretstore.LabelCurrent)
		sec.versions[currentID].labels[secretstore.LabelPrevious] = true
	}
	promoted := sec.versions[pendingID]
	delete(promoted.labels, secretstore.LabelPending)
	promoted.labels[secretstore.LabelCurrent] = true

	return versionFor(pendingID, promoted), nil
}

func (s *Store) Invalidate(_ context.Context, id string, label secretstore.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InvalidateCalls[id]++
	if s.FailInvalidate != nil {
		return s.FailInvalidate
	}

	sec := s.secrets[id]
	if sec == nil {
		return secretstore.NotFoundError{ID: id}
	}
	for _, v := range sec.versions {
		delete(v.labels, label)
	}
	return nil
}

func versionFor(id string, v *fakeVersion) *secretstore.Version {
	out := &secretstore.Version{ID: id, Value: v.value, CreatedAt: v.createdAt}
	for label := range v.labels {
		out.Labels = append(out.Labels, label)
	}
	return out
}
