package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/bizchat/internal/models"
)

// MemoryStorage keeps everything in maps guarded by one mutex. Holding the
// write lock across the overlap check and the insert is what serialises
// concurrent bookings.
type MemoryStorage struct {
	mu            sync.RWMutex
	calendars     map[string]*models.Calendar // by agent id
	events        map[string]*models.CalendarEvent
	conversations map[string]*models.Conversation
	sessions      map[string]string // session key -> conversation id
	leads         map[string]*models.CustomerLead
	records       []*models.ConversationRecord
	tasks         []*models.FollowUpTask
	media         map[string]*models.MediaAsset
	now           func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		calendars:     make(map[string]*models.Calendar),
		events:        make(map[string]*models.CalendarEvent),
		conversations: make(map[string]*models.Conversation),
		sessions:      make(map[string]string),
		leads:         make(map[string]*models.CustomerLead),
		media:         make(map[string]*models.MediaAsset),
		now:           time.Now,
	}
}

func ownerKey(ownerID, v string) string {
	return ownerID + "|" + v
}

// Calendar methods

func (s *MemoryStorage) GetCalendar(ctx context.Context, agentID string) (*models.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, exists := s.calendars[agentID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneCalendar(cal), nil
}

func (s *MemoryStorage) GetOrCreateCalendar(ctx context.Context, defaults *models.Calendar) (*models.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cal, exists := s.calendars[defaults.AgentID]; exists {
		return cloneCalendar(cal), nil
	}

	cal := cloneCalendar(defaults)
	if cal.ID == "" {
		cal.ID = uuid.New().String()
	}
	cal.CreatedAt = s.now()
	s.calendars[cal.AgentID] = cal
	return cloneCalendar(cal), nil
}

func (s *MemoryStorage) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*models.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CalendarEvent
	for _, e := range s.events {
		if e.CalendarID != calendarID || !e.Active() || !e.Overlaps(from, to) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStorage) InsertEvent(ctx context.Context, event *models.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overlapsLocked(event, "") {
		return ErrOverlap
	}
	s.insertEventLocked(event)
	return nil
}

func (s *MemoryStorage) RescheduleEvent(ctx context.Context, oldEventID string, event *models.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.events[oldEventID]
	if !exists || !old.Active() {
		return ErrNotFound
	}
	if s.overlapsLocked(event, oldEventID) {
		return ErrOverlap
	}
	old.Status = models.EventCancelled
	old.UpdatedAt = s.now()
	s.insertEventLocked(event)
	return nil
}

func (s *MemoryStorage) overlapsLocked(event *models.CalendarEvent, ignoreID string) bool {
	for id, e := range s.events {
		if id == ignoreID || e.CalendarID != event.CalendarID || !e.Active() {
			continue
		}
		if e.Overlaps(event.Start, event.End) {
			return true
		}
	}
	return false
}

func (s *MemoryStorage) insertEventLocked(event *models.CalendarEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now()
	event.CreatedAt = now
	event.UpdatedAt = now
	c := *event
	s.events[event.ID] = &c
}

func (s *MemoryStorage) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.events[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *MemoryStorage) TransitionEventStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (*models.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists {
		return nil, ErrNotFound
	}
	if slices.Contains(from, e.Status) {
		e.Status = to
		e.UpdatedAt = s.now()
	}
	c := *e
	return &c, nil
}

func (s *MemoryStorage) ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time, phone string, limit int) ([]*models.CalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CalendarEvent
	for _, e := range s.events {
		if e.CalendarID != calendarID || !e.Active() || e.Start.Before(from) {
			continue
		}
		if phone != "" && e.CustomerPhone != phone {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sortEvents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStorage) CountEventsByStatus(ctx context.Context, calendarID string, from, to time.Time) (map[models.EventStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.EventStatus]int)
	for _, e := range s.events {
		if e.CalendarID != calendarID || e.Start.Before(from) || !e.Start.Before(to) {
			continue
		}
		counts[e.Status]++
	}
	return counts, nil
}

// Conversation methods

func (s *MemoryStorage) GetOrCreateConversation(ctx context.Context, sessionKey, agentID, phone string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.sessions[sessionKey]; exists {
		return cloneConversation(s.conversations[id], 0), nil
	}

	now := s.now()
	conv := &models.Conversation{
		ID:            uuid.New().String(),
		SessionKey:    sessionKey,
		AgentID:       agentID,
		CustomerPhone: phone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	s.sessions[sessionKey] = conv.ID
	return cloneConversation(conv, 0), nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string, turnLimit int) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneConversation(conv, turnLimit), nil
}

func (s *MemoryStorage) AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return ErrNotFound
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	t := *turn
	t.Buttons = append([]models.Button(nil), turn.Buttons...)
	conv.Turns = append(conv.Turns, t)
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) MergeMetadata(ctx context.Context, conversationID string, patch models.MetadataPatch) (*models.ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return nil, ErrNotFound
	}
	conv.Metadata.Merge(patch)
	conv.UpdatedAt = s.now()
	md := cloneMetadata(conv.Metadata)
	return &md, nil
}

// Lead methods

func (s *MemoryStorage) GetLead(ctx context.Context, ownerID, phone string) (*models.CustomerLead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, exists := s.leads[ownerKey(ownerID, phone)]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneLead(lead), nil
}

func (s *MemoryStorage) UpdateLead(ctx context.Context, ownerID, phone string, update models.LeadUpdate) (*models.CustomerLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := ownerKey(ownerID, phone)
	lead, exists := s.leads[key]
	if !exists {
		lead = &models.CustomerLead{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Phone:     phone,
			Status:    models.LeadNew,
			Tags:      []string{},
			CreatedAt: now,
		}
		s.leads[key] = lead
	}

	if update.Name != "" {
		lead.Name = update.Name
	}
	if update.Email != "" {
		lead.Email = update.Email
	}
	if update.Score != nil {
		lead.Score = *update.Score
	}
	if update.Status != "" {
		lead.Status = update.Status
	}
	lead.Tags = UnionTags(lead.Tags, update.Tags)
	lead.Notes = AppendNote(lead.Notes, now, update.Note)
	lead.UpdatedAt = now
	return cloneLead(lead), nil
}

// Record methods

func (s *MemoryStorage) CreateRecord(ctx context.Context, record *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = s.now()
	c := *record
	s.records = append(s.records, &c)
	return nil
}

func (s *MemoryStorage) ListRecords(ctx context.Context, conversationID string) ([]*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ConversationRecord
	for _, r := range s.records {
		if r.ConversationID == conversationID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStorage) CreateFollowUpTasks(ctx context.Context, tasks ...*models.FollowUpTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		if task.Status == "" {
			task.Status = models.TaskPending
		}
		task.CreatedAt = now
		c := *task
		s.tasks = append(s.tasks, &c)
	}
	return nil
}

func (s *MemoryStorage) ListFollowUpTasks(ctx context.Context, conversationID string) ([]*models.FollowUpTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.FollowUpTask
	for _, t := range s.tasks {
		if t.ConversationID == conversationID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

// Media methods

func (s *MemoryStorage) UpsertMediaAsset(ctx context.Context, asset *models.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(asset.OwnerID, asset.Category)
	if asset.ID == "" {
		if current, exists := s.media[key]; exists && current.Active {
			asset.ID = current.ID
		} else {
			asset.ID = uuid.New().String()
		}
	}
	c := *asset
	s.media[key] = &c
	return nil
}

func (s *MemoryStorage) GetActiveMediaAsset(ctx context.Context, ownerID, category string) (*models.MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, exists := s.media[ownerKey(ownerID, category)]
	if !exists || !asset.Active {
		return nil, ErrNotFound
	}
	c := *asset
	return &c, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func sortEvents(events []*models.CalendarEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

func cloneCalendar(c *models.Calendar) *models.Calendar {
	out := *c
	out.Windows = append([]models.AvailabilityWindow(nil), c.Windows...)
	return &out
}

func cloneLead(l *models.CustomerLead) *models.CustomerLead {
	out := *l
	out.Tags = append([]string{}, l.Tags...)
	return &out
}

func cloneMetadata(m models.ConversationMetadata) models.ConversationMetadata {
	var out models.ConversationMetadata
	out.Merge(models.MetadataPatch{
		LastAppointment:    m.LastAppointment,
		LastIntent:         m.LastIntent,
		PendingReschedule:  m.PendingReschedule,
		HumanTransfer:      m.HumanTransfer,
		InteractiveContext: m.InteractiveContext,
	})
	return out
}

func cloneConversation(c *models.Conversation, turnLimit int) *models.Conversation {
	out := *c
	turns := c.Turns
	if turnLimit > 0 && len(turns) > turnLimit {
		turns = turns[len(turns)-turnLimit:]
	}
	out.Turns = append([]models.Turn(nil), turns...)
	out.Metadata = cloneMetadata(c.Metadata)
	return &out
}
