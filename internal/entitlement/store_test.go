package entitlement

import (
	"context"
	"errors"
	"sync"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/hitoshi/coursemart/internal/repository"
)

// memStore はユーザー・講座・購入記録・イベントログのインメモリ実装。
// 各集合への追加は1件ずつ原子的に行い、障害注入用のフックを持つ。
type memStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	courses   map[string]*model.Course
	purchases map[model.PurchasePair]*model.Purchase
	events    map[string]*model.WebhookEvent
	writes    int

	addPurchasedErr error
	addStudentErr   error
	recordPaidErr   error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		courses:   make(map[string]*model.Course),
		purchases: make(map[model.PurchasePair]*model.Purchase),
		events:    make(map[string]*model.WebhookEvent),
	}
}

func (s *memStore) addUser(id string) {
	s.users[id] = &model.User{ID: id, Role: model.RoleStudent}
}

func (s *memStore) addCourse(id string) {
	s.courses[id] = &model.Course{ID: id}
}

type memUsers struct{ *memStore }
type memCourses struct{ *memStore }
type memPurchases struct{ *memStore }
type memEvents struct{ *memStore }

func (s memUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.PurchasedCourseIDs = append([]string(nil), u.PurchasedCourseIDs...)
	return &cp, nil
}

func (s memUsers) SetStripeCustomerIDIfEmpty(ctx context.Context, userID, customerID string) (bool, error) {
	return false, errors.New("not used")
}

func (s memUsers) AddPurchasedCourse(ctx context.Context, userID, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addPurchasedErr != nil {
		return false, s.addPurchasedErr
	}
	u := s.users[userID]
	if u.HasPurchased(courseID) {
		return false, nil
	}
	u.PurchasedCourseIDs = append(u.PurchasedCourseIDs, courseID)
	s.writes++
	return true, nil
}

func (s memCourses) FindByID(ctx context.Context, id string) (*model.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.StudentIDs = append([]string(nil), c.StudentIDs...)
	return &cp, nil
}

func (s memCourses) AddStudent(ctx context.Context, courseID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addStudentErr != nil {
		return false, s.addStudentErr
	}
	c := s.courses[courseID]
	if c.HasStudent(userID) {
		return false, nil
	}
	c.StudentIDs = append(c.StudentIDs, userID)
	s.writes++
	return true, nil
}

func (s memPurchases) RecordPaid(ctx context.Context, p *model.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordPaidErr != nil {
		return s.recordPaidErr
	}
	key := model.PurchasePair{UserID: p.UserID, CourseID: p.CourseID}
	if existing, ok := s.purchases[key]; ok {
		existing.Status = model.PurchaseStatusPaid
		return nil
	}
	cp := *p
	cp.Status = model.PurchaseStatusPaid
	s.purchases[key] = &cp
	return nil
}

func (s memPurchases) ListIncomplete(ctx context.Context, limit int) ([]model.PurchasePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pairs []model.PurchasePair
	for key := range s.purchases {
		if !s.users[key.UserID].HasPurchased(key.CourseID) || !s.courses[key.CourseID].HasStudent(key.UserID) {
			pairs = append(pairs, key)
		}
		if len(pairs) == limit {
			break
		}
	}
	return pairs, nil
}

func (s memEvents) Record(ctx context.Context, e *model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events[e.EventID] = &cp
	return nil
}

// compile-time interface check
var (
	_ repository.UserRepository         = memUsers{}
	_ repository.CourseRepository       = memCourses{}
	_ repository.PurchaseRepository     = memPurchases{}
	_ repository.WebhookEventRepository = memEvents{}
)
