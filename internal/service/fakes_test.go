package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/countdown"
	"github.com/stemsi/exstem-engine/internal/lock"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stretchr/testify/require"
)

// fakeSessionRepo is an in-memory SessionRepository. All methods take the
// same mutex, which gives MarkSubmitted the conditional-update semantics of
// the SQL implementation.
type fakeSessionRepo struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*model.ExamSession
	assigned    map[uuid.UUID]model.AssignedQuestion
	questions   map[uuid.UUID]model.Question
	answers     map[uuid.UUID]*model.Answer
	submitCalls int
	failGrading bool
}

func newFakeSessionRepo(questions []model.Question) *fakeSessionRepo {
	r := &fakeSessionRepo{
		sessions:  make(map[uuid.UUID]*model.ExamSession),
		assigned:  make(map[uuid.UUID]model.AssignedQuestion),
		questions: make(map[uuid.UUID]model.Question),
		answers:   make(map[uuid.UUID]*model.Answer),
	}
	for _, q := range questions {
		r.questions[q.ID] = q
	}
	return r
}

func (r *fakeSessionRepo) GetByTestAndStudent(_ context.Context, testID uuid.UUID, studentID int) (*model.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TestID == testID && s.StudentID == studentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) CreateWithAssignments(_ context.Context, s *model.ExamSession, assigned []model.AssignedQuestion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.TestID == s.TestID && existing.StudentID == s.StudentID {
			return false, nil
		}
	}
	cp := *s
	r.sessions[s.ID] = &cp
	for _, aq := range assigned {
		r.assigned[aq.ID] = aq
	}
	return true, nil
}

func (r *fakeSessionRepo) assignedFor(sessionID uuid.UUID) []model.AssignedQuestion {
	var out []model.AssignedQuestion
	for _, aq := range r.assigned {
		if aq.SessionID == sessionID {
			out = append(out, aq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (r *fakeSessionRepo) CountAssigned(_ context.Context, sessionID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assignedFor(sessionID)), nil
}

func (r *fakeSessionRepo) ListQuestionViews(_ context.Context, sessionID uuid.UUID, limit, offset int) ([]model.QuestionView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.assignedFor(sessionID)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	var views []model.QuestionView
	for _, aq := range all[offset:end] {
		q := r.questions[aq.QuestionID]
		choices := q.Choices
		if aq.ShuffledChoices != "" {
			choices = aq.ShuffledChoices
		}
		views = append(views, model.QuestionView{
			AssignedQuestionID: aq.ID,
			QuestionID:         q.ID,
			Order:              aq.Order,
			QuestionText:       q.QuestionText,
			QuestionType:       q.QuestionType,
			Choices:            model.SplitChoices(choices),
			MaxMarks:           q.MaxMarks,
			Answered:           aq.Answered,
			SavedAnswer:        aq.SavedAnswer,
		})
	}
	return views, nil
}

func (r *fakeSessionRepo) ListAssignedQuestionIDs(_ context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, aq := range r.assignedFor(sessionID) {
		ids = append(ids, aq.ID)
	}
	return ids, nil
}

func (r *fakeSessionRepo) ResolveAssigned(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.AssignedRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make(map[uuid.UUID]repository.AssignedRef)
	for _, id := range ids {
		if aq, ok := r.assigned[id]; ok {
			refs[id] = repository.AssignedRef{SessionID: aq.SessionID, QuestionID: aq.QuestionID}
		}
	}
	return refs, nil
}

func (r *fakeSessionRepo) SaveAnswers(_ context.Context, sessionID uuid.UUID, answers []model.AnswerInput, refs map[uuid.UUID]repository.AssignedRef, currentIndex *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID].Completed {
		return repository.ErrSessionClosed
	}
	for _, a := range answers {
		ans, ok := r.answers[a.AssignedQuestionID]
		if !ok {
			ans = &model.Answer{
				ID:                 uuid.New(),
				SessionID:          sessionID,
				AssignedQuestionID: a.AssignedQuestionID,
				QuestionID:         refs[a.AssignedQuestionID].QuestionID,
			}
			r.answers[a.AssignedQuestionID] = ans
		}
		ans.Value = a.Value

		aq := r.assigned[a.AssignedQuestionID]
		v := a.Value
		aq.Answered = true
		aq.SavedAnswer = &v
		r.assigned[a.AssignedQuestionID] = aq
	}
	if currentIndex != nil {
		r.sessions[sessionID].CurrentQuestionIndex = *currentIndex
	}
	return nil
}

func (r *fakeSessionRepo) MarkSubmitted(_ context.Context, id uuid.UUID, endTime time.Time, timeSpentSeconds int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s.Completed {
		return false, nil
	}
	r.submitCalls++
	s.Completed = true
	s.EndTime = &endTime
	s.Status = model.SessionStatusSubmitted
	s.TimeSpentSeconds = timeSpentSeconds
	return true, nil
}

func (r *fakeSessionRepo) gradingItem(aq model.AssignedQuestion) model.GradingItem {
	q := r.questions[aq.QuestionID]
	it := model.GradingItem{
		AssignedQuestionID: aq.ID,
		QuestionID:         q.ID,
		QuestionType:       q.QuestionType,
		CorrectAnswer:      q.CorrectAnswer,
		MaxMarks:           q.MaxMarks,
	}
	if a, ok := r.answers[aq.ID]; ok {
		it.HasAnswer = true
		it.Value = a.Value
		it.Score = a.Score
	}
	return it
}

func (r *fakeSessionRepo) ListGradingItems(_ context.Context, sessionID uuid.UUID) ([]model.GradingItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGrading {
		return nil, errors.New("grading store unavailable")
	}
	var items []model.GradingItem
	for _, aq := range r.assignedFor(sessionID) {
		items = append(items, r.gradingItem(aq))
	}
	return items, nil
}

func (r *fakeSessionRepo) GetGradingItem(_ context.Context, sessionID, questionID uuid.UUID) (*model.GradingItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, aq := range r.assignedFor(sessionID) {
		if aq.QuestionID == questionID {
			it := r.gradingItem(aq)
			return &it, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeSessionRepo) SaveGradeOutcome(_ context.Context, o *model.GradeOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range o.AnswerScores {
		if a, ok := r.answers[sc.AssignedQuestionID]; ok {
			v := sc.Score
			a.Score = &v
		}
	}
	s := r.sessions[o.SessionID]
	if !s.Completed {
		return nil
	}
	s.Score = o.Score
	s.Percentage = o.Percentage
	s.Passed = o.Passed
	s.Status = o.Status
	s.Graded = o.Graded
	return nil
}

func (r *fakeSessionRepo) SetEssayScore(_ context.Context, sessionID uuid.UUID, item *model.GradingItem, score float64, feedback string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.answers[item.AssignedQuestionID]
	if !ok {
		a = &model.Answer{
			ID:                 uuid.New(),
			SessionID:          sessionID,
			AssignedQuestionID: item.AssignedQuestionID,
			QuestionID:         item.QuestionID,
		}
		r.answers[item.AssignedQuestionID] = a
	}
	a.Score = &score
	a.Feedback = &feedback
	return nil
}

// answerScoreSum sums the stored answer scores of a session.
func (r *fakeSessionRepo) answerScoreSum(sessionID uuid.UUID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, a := range r.answers {
		if a.SessionID == sessionID && a.Score != nil {
			sum += *a.Score
		}
	}
	return sum
}

type fakeCatalog struct {
	tests map[uuid.UUID]*model.Test
	pools map[uuid.UUID][]model.Question
	calls int
}

func (c *fakeCatalog) GetTestDefinition(_ context.Context, testID uuid.UUID) (*model.Test, error) {
	c.calls++
	t, ok := c.tests[testID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) GetQuestionPool(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	c.calls++
	return c.pools[testID], nil
}

type fakeDirectory struct {
	notEnrolled     bool
	notAcknowledged bool
}

func (d *fakeDirectory) IsStudentEnrolled(context.Context, int, uuid.UUID) (bool, error) {
	return !d.notEnrolled, nil
}

func (d *fakeDirectory) HasUserReadInstructions(context.Context, int, uuid.UUID) (bool, error) {
	return !d.notAcknowledged, nil
}

type fakeRegradeQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *fakeRegradeQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []string
}

func (c *capturePublisher) Publish(_ context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, topic+"="+payload)
	return nil
}

func (c *capturePublisher) count(message string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.messages {
		if m == message {
			n++
		}
	}
	return n
}

type harness struct {
	repo      *fakeSessionRepo
	catalog   *fakeCatalog
	directory *fakeDirectory
	regrade   *fakeRegradeQueue
	publisher *capturePublisher
	redis     *miniredis.Miniredis
	timer     *countdown.Timer
	grading   *GradingService
	guard     *CompletionGuard
	sessions  *SessionService
	test      *model.Test
}

func newHarness(t *testing.T, test *model.Test, pool []model.Question) *harness {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zerolog.Nop()
	h := &harness{
		repo:      newFakeSessionRepo(pool),
		catalog:   &fakeCatalog{tests: map[uuid.UUID]*model.Test{test.ID: test}, pools: map[uuid.UUID][]model.Question{test.ID: pool}},
		directory: &fakeDirectory{},
		regrade:   &fakeRegradeQueue{},
		publisher: &capturePublisher{},
		redis:     server,
		test:      test,
	}
	locker := lock.NewLocker(rdb, 30*time.Second)
	h.timer = countdown.NewTimer(countdown.NewStore(rdb), h.publisher, log)
	h.grading = NewGradingService(h.repo, h.catalog, locker, log)
	h.guard = NewCompletionGuard(h.repo, h.grading, h.timer, locker, h.publisher, h.regrade, log)
	h.sessions = NewSessionService(h.repo, h.catalog, h.directory, NewAssignmentBuilder(), h.timer, h.guard, log)
	return h
}

func question(testID uuid.UUID, qt model.QuestionType, correct string, maxMarks float64) model.Question {
	return model.Question{
		ID:            uuid.New(),
		TestID:        testID,
		QuestionText:  string(qt) + " question",
		QuestionType:  qt,
		Choices:       "A|B|C|D",
		CorrectAnswer: correct,
		MaxMarks:      maxMarks,
	}
}

func newTest(n int) *model.Test {
	return &model.Test{
		ID:                uuid.New(),
		Title:             "Physics",
		DurationMinutes:   30,
		NumberOfQuestions: n,
		PassingScore:      50,
	}
}
