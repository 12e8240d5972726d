// Package accounts provides the stored Antigravity logins, one JSON file per
// account in a directory that is watched for changes.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/session"
)

// StateKey is the key under which the IDE stores the session blob. Account
// files reuse it so they can be written back verbatim.
const StateKey = "jetskiStateSync.agentManagerInitState"

// Event represents an account service event.
type Event struct {
	Type  EventType
	Error error
}

// EventType defines the type of account event.
type EventType int

const (
	EventAccountsLoaded EventType = iota
	EventAccountsChanged
	EventError
)

// Service keeps the account list in sync with the accounts directory.
type Service struct {
	mu            sync.RWMutex
	accounts      []models.Account
	dir           string
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
	closeOnce     sync.Once
}

// New loads every account file under dir and starts watching it.
func New(dir string) (*Service, error) {
	if dir == "" {
		return nil, fmt.Errorf("accounts directory is empty")
	}

	s := &Service{
		dir:       dir,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create accounts directory: %w", err)
	}

	accounts, err := scanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	s.accounts = accounts

	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountsLoaded})
	logger.Info("accounts loaded", "dir", dir, "count", len(accounts))

	return s, nil
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// GetAccounts returns a copy of all accounts.
func (s *Service) GetAccounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	copy(accounts, s.accounts)
	return accounts
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// GetAccountByEmail returns an account by email address.
func (s *Service) GetAccountByEmail(email string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].Email == email {
			acc := s.accounts[i]
			return &acc
		}
	}
	return nil
}

// Credential returns the current session blob for email. When the cached list
// has no usable entry the directory is rescanned, so credentials rotated since
// the last watcher event are still found.
func (s *Service) Credential(email string) (string, bool) {
	if acc := s.GetAccountByEmail(email); acc != nil && acc.HasState() {
		return acc.State, true
	}

	if err := s.Reload(); err != nil {
		logger.Warn("accounts rescan failed", "error", err)
		return "", false
	}

	if acc := s.GetAccountByEmail(email); acc != nil && acc.HasState() {
		return acc.State, true
	}
	return "", false
}

// Save writes the blob as the account file for its email, replacing any
// previous file for that email.
func (s *Service) Save(state string) (models.Account, error) {
	email, plan := session.Summary(state)
	if email == models.UnknownEmail {
		return models.Account{}, fmt.Errorf("cannot determine account email")
	}

	data, err := json.MarshalIndent(map[string]string{StateKey: state}, "", "    ")
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to marshal account: %w", err)
	}

	name := fileNameFor(email)
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return models.Account{}, err
	}

	acc := models.Account{Email: email, Plan: plan, FileName: name, State: state}

	s.mu.Lock()
	replaced := false
	for i := range s.accounts {
		if s.accounts[i].Email == email {
			s.accounts[i] = acc
			replaced = true
			break
		}
	}
	if !replaced {
		s.accounts = append(s.accounts, acc)
		sortAccounts(s.accounts)
	}
	s.mu.Unlock()

	return acc, nil
}

// Reload rescans the accounts directory.
func (s *Service) Reload() error {
	accounts, err := scanDir(s.dir)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	return nil
}

// scanDir reads every *.json account file in dir. Unreadable files are logged
// and skipped.
func scanDir(dir string) ([]models.Account, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(matches))
	for _, path := range matches {
		acc, err := readAccountFile(path)
		if err != nil {
			logger.Warn("skipping account file", "file", path, "error", err)
			continue
		}
		accounts = append(accounts, acc)
	}

	sortAccounts(accounts)
	return accounts, nil
}

func readAccountFile(path string) (models.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Account{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Account{}, fmt.Errorf("failed to parse account file: %w", err)
	}

	state, _ := raw[StateKey].(string)
	if state == "" {
		return models.Account{}, fmt.Errorf("account file has no %s", StateKey)
	}

	email, plan := session.Summary(state)
	return models.Account{
		Email:    email,
		Plan:     plan,
		FileName: filepath.Base(path),
		State:    state,
	}, nil
}

func sortAccounts(accounts []models.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].Email < accounts[j].Email
	})
}

func fileNameFor(email string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(email) + ".json"
}

// writeFileAtomic writes to a temp file first, then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	if err := watcher.Add(s.dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.mu.Lock()
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, s.handleFileChange)
				s.mu.Unlock()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads accounts after an external change.
func (s *Service) handleFileChange() {
	if err := s.Reload(); err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}
	logger.Debug("accounts reloaded", "count", s.Count())
	s.sendEvent(Event{Type: EventAccountsChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		s.mu.Unlock()

		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
