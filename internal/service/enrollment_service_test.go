package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/repository"
	appErrors "github.com/campuscore/course-api/pkg/errors"
)

// mockLedger emulates the repository's per-offering serialization with a
// mutex so concurrency properties hold the same way they do against postgres.
type mockLedger struct {
	mu       sync.Mutex
	rows     map[string]*models.Enrollment // key: studentID|offeringID
	waitlist *mockWaitlist
}

func newMockLedger() *mockLedger {
	return &mockLedger{rows: make(map[string]*models.Enrollment)}
}

func (m *mockLedger) TryEnroll(ctx context.Context, studentID, offeringID string, capacity int) (*models.Enrollment, error) {
	m.mu.Lock()
	row, err := m.tryEnrollLocked(studentID, offeringID, capacity)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Direct enrollment discards any pending waitlist entry, same as the
	// repository does inside the enroll transaction.
	if m.waitlist != nil {
		m.waitlist.discardPending(studentID, offeringID)
	}
	return row, nil
}

func (m *mockLedger) tryEnrollLocked(studentID, offeringID string, capacity int) (*models.Enrollment, error) {
	key := studentID + "|" + offeringID
	if existing, ok := m.rows[key]; ok && existing.Status == models.EnrollmentStatusEnrolled {
		return nil, repository.ErrAlreadyEnrolled
	}
	if m.countEnrolledLocked(offeringID) >= capacity {
		return nil, repository.ErrOfferingFull
	}
	if existing, ok := m.rows[key]; ok {
		existing.Status = models.EnrollmentStatusEnrolled
		existing.Grade = nil
		return existing, nil
	}
	row := &models.Enrollment{ID: key, StudentID: studentID, OfferingID: offeringID, Status: models.EnrollmentStatusEnrolled}
	m.rows[key] = row
	return row, nil
}

func (m *mockLedger) activate(studentID, offeringID string, capacity int) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryEnrollLocked(studentID, offeringID, capacity)
}

func (m *mockLedger) isEnrolled(studentID, offeringID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[studentID+"|"+offeringID]
	return ok && row.Status == models.EnrollmentStatusEnrolled
}

func (m *mockLedger) setStatus(studentID, offeringID string, status models.EnrollmentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[studentID+"|"+offeringID]; ok {
		row.Status = status
	}
}

func (m *mockLedger) Drop(ctx context.Context, studentID, offeringID string) (*models.Enrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[studentID+"|"+offeringID]
	if !ok {
		return nil, false, sql.ErrNoRows
	}
	if row.Status != models.EnrollmentStatusEnrolled {
		return row, false, nil
	}
	row.Status = models.EnrollmentStatusDropped
	return row, true, nil
}

func (m *mockLedger) FinalizeGrade(ctx context.Context, studentID, offeringID string, status models.EnrollmentStatus, grade string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[studentID+"|"+offeringID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if row.Status != models.EnrollmentStatusEnrolled {
		return nil, repository.ErrEnrollmentNotActive
	}
	row.Status = status
	row.Grade = &grade
	return row, nil
}

func (m *mockLedger) CountEnrolled(ctx context.Context, offeringID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countEnrolledLocked(offeringID), nil
}

func (m *mockLedger) countEnrolledLocked(offeringID string) int {
	count := 0
	for _, row := range m.rows {
		if row.OfferingID == offeringID && row.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	return count
}

// mockWaitlist keeps a real FIFO queue per offering with dense positions.
type mockWaitlist struct {
	mu      sync.Mutex
	ledger  *mockLedger
	entries map[string][]models.WaitlistEntry // key: offeringID, sorted by position
}

func newMockWaitlist(ledger *mockLedger) *mockWaitlist {
	return &mockWaitlist{ledger: ledger, entries: make(map[string][]models.WaitlistEntry)}
}

func (m *mockWaitlist) Add(ctx context.Context, studentID, offeringID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[offeringID] {
		if entry.StudentID == studentID && entry.Status == models.WaitlistStatusPending {
			return 0, repository.ErrDuplicateWaitlist
		}
	}
	position := len(m.entries[offeringID]) + 1
	m.entries[offeringID] = append(m.entries[offeringID], models.WaitlistEntry{
		ID: studentID, StudentID: studentID, OfferingID: offeringID,
		Position: position, Status: models.WaitlistStatusPending,
	})
	return position, nil
}

func (m *mockWaitlist) PromoteNext(ctx context.Context, offeringID string, capacity int) (*models.WaitlistPromotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.entries[offeringID]) > 0 {
		head := m.entries[offeringID][0]
		// Stale entry: the student already took a seat directly.
		if m.ledger.isEnrolled(head.StudentID, offeringID) {
			m.dropHeadLocked(offeringID)
			continue
		}
		enrollment, err := m.ledger.activate(head.StudentID, offeringID, capacity)
		if err != nil {
			return nil, nil
		}
		m.dropHeadLocked(offeringID)
		return &models.WaitlistPromotion{StudentID: head.StudentID, EnrollmentID: enrollment.ID, Position: head.Position}, nil
	}
	return nil, nil
}

func (m *mockWaitlist) dropHeadLocked(offeringID string) {
	queue := m.entries[offeringID]
	rest := make([]models.WaitlistEntry, 0, len(queue)-1)
	for i, entry := range queue[1:] {
		entry.Position = i + 1
		rest = append(rest, entry)
	}
	m.entries[offeringID] = rest
}

func (m *mockWaitlist) discardPending(studentID, offeringID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.entries[offeringID]
	for i, entry := range queue {
		if entry.StudentID == studentID {
			rest := append([]models.WaitlistEntry{}, queue[:i]...)
			for j, later := range queue[i+1:] {
				later.Position = i + j + 1
				rest = append(rest, later)
			}
			m.entries[offeringID] = rest
			return
		}
	}
}

func (m *mockWaitlist) Remove(ctx context.Context, studentID, offeringID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.entries[offeringID]
	for i, entry := range queue {
		if entry.StudentID == studentID {
			rest := append([]models.WaitlistEntry{}, queue[:i]...)
			for j, later := range queue[i+1:] {
				later.Position = i + j + 1
				rest = append(rest, later)
			}
			m.entries[offeringID] = rest
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockWaitlist) ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WaitlistEntry{}, m.entries[offeringID]...), nil
}

type mockOfferings struct {
	offerings map[string]*models.Offering
}

func (m *mockOfferings) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	if o, ok := m.offerings[id]; ok {
		return o, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockOfferings) FindByEnrollmentCode(ctx context.Context, code string) (*models.Offering, error) {
	for _, o := range m.offerings {
		if o.EnrollmentCode == code && o.Active {
			return o, nil
		}
	}
	return nil, sql.ErrNoRows
}

func newEnrollmentFixture(capacity int) (*EnrollmentService, *mockLedger, *mockWaitlist) {
	ledger := newMockLedger()
	waitlist := newMockWaitlist(ledger)
	ledger.waitlist = waitlist
	offerings := &mockOfferings{offerings: map[string]*models.Offering{
		"off-1": {ID: "off-1", EnrollmentCode: "JOIN42", Capacity: capacity, Active: true},
	}}
	svc := NewEnrollmentService(ledger, waitlist, offerings, validator.New(), zap.NewNop(), nil)
	return svc, ledger, waitlist
}

func TestEnrollmentServiceEnrollSeatsThenWaitlists(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	first, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnrolled, first.Outcome)
	require.NotNil(t, first.Enrollment)

	second, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWaitlisted, second.Outcome)
	assert.Equal(t, 1, second.Position)
}

func TestEnrollmentServiceCapacityInvariantUnderConcurrency(t *testing.T) {
	const students = 20
	svc, ledger, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	results := make(chan *models.EnrollResult, students)
	failures := make(chan error, students)
	var wg sync.WaitGroup
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := svc.Enroll(ctx, EnrollRequest{StudentID: string(rune('A' + n)), OfferingID: "off-1"})
			if err != nil {
				failures <- err
				return
			}
			results <- result
		}(i)
	}
	wg.Wait()
	close(results)
	close(failures)
	for err := range failures {
		require.NoError(t, err)
	}

	enrolled, waitlisted := 0, 0
	positions := map[int]bool{}
	for result := range results {
		switch result.Outcome {
		case models.OutcomeEnrolled:
			enrolled++
		case models.OutcomeWaitlisted:
			waitlisted++
			assert.False(t, positions[result.Position], "duplicate waitlist position %d", result.Position)
			positions[result.Position] = true
		}
	}
	assert.Equal(t, 1, enrolled)
	assert.Equal(t, students-1, waitlisted)
	for p := 1; p < students; p++ {
		assert.True(t, positions[p], "missing position %d", p)
	}
	count, err := ledger.CountEnrolled(ctx, "off-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnrollmentServiceDuplicateEnrollConflicts(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(2)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestEnrollmentServiceEnrollByCode(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	result, err := svc.EnrollByCode(ctx, EnrollByCodeRequest{StudentID: "s1", Code: "JOIN42"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnrolled, result.Outcome)

	_, err = svc.EnrollByCode(ctx, EnrollByCodeRequest{StudentID: "s2", Code: "NOPE99"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceDropPromotesFIFO(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	for _, student := range []string{"s2", "s3", "s4"} {
		result, err := svc.Enroll(ctx, EnrollRequest{StudentID: student, OfferingID: "off-1"})
		require.NoError(t, err)
		require.Equal(t, models.OutcomeWaitlisted, result.Outcome)
	}

	dropped, err := svc.Drop(ctx, DropRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.False(t, dropped.AlreadyDropped)
	require.NotNil(t, dropped.Promoted)
	assert.Equal(t, "s2", dropped.Promoted.StudentID)

	// Remaining queue compacts to positions 1..2 with no gaps.
	entries, err := svc.Waitlist(ctx, "off-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s3", entries[0].StudentID)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, "s4", entries[1].StudentID)
	assert.Equal(t, 2, entries[1].Position)
}

func TestEnrollmentServiceDropIsIdempotent(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)

	first, err := svc.Drop(ctx, DropRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.False(t, first.AlreadyDropped)

	second, err := svc.Drop(ctx, DropRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.True(t, second.AlreadyDropped)

	_, err = svc.Drop(ctx, DropRequest{StudentID: "ghost", OfferingID: "off-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceDropReEnrollKeepsSingleRow(t *testing.T) {
	svc, ledger, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	_, err = svc.Drop(ctx, DropRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	result, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnrolled, result.Outcome)

	assert.Len(t, ledger.rows, 1)
	assert.Equal(t, models.EnrollmentStatusEnrolled, ledger.rows["s1|off-1"].Status)
}

func TestEnrollmentServiceFinalizeGradeFreesSeat(t *testing.T) {
	svc, ledger, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	waitlisted, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeWaitlisted, waitlisted.Outcome)

	result, err := svc.FinalizeGrade(ctx, FinalizeGradeRequest{StudentID: "s1", OfferingID: "off-1", Grade: "A", Passed: true})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, result.Enrollment.Status)
	require.NotNil(t, result.Enrollment.Grade)
	assert.Equal(t, "A", *result.Enrollment.Grade)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, "s2", result.Promoted.StudentID)

	count, err := ledger.CountEnrolled(ctx, "off-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnrollmentServiceLeaveWaitlist(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	for _, student := range []string{"s2", "s3"} {
		_, err := svc.Enroll(ctx, EnrollRequest{StudentID: student, OfferingID: "off-1"})
		require.NoError(t, err)
	}

	require.NoError(t, svc.LeaveWaitlist(ctx, "s2", "off-1"))

	entries, err := svc.Waitlist(ctx, "off-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s3", entries[0].StudentID)
	assert.Equal(t, 1, entries[0].Position)

	err = svc.LeaveWaitlist(ctx, "s2", "off-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceDirectEnrollLeavesWaitlist(t *testing.T) {
	svc, ledger, _ := newEnrollmentFixture(1)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s1", OfferingID: "off-1"})
	require.NoError(t, err)
	for _, student := range []string{"s2", "s3"} {
		result, err := svc.Enroll(ctx, EnrollRequest{StudentID: student, OfferingID: "off-1"})
		require.NoError(t, err)
		require.Equal(t, models.OutcomeWaitlisted, result.Outcome)
	}

	// The seat frees without a promotion completing, as happens when the
	// promotion attempt after a drop errors out or loses the seat race.
	ledger.setStatus("s1", "off-1", models.EnrollmentStatusDropped)

	result, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeEnrolled, result.Outcome)

	// The direct enrollment removed s2 from the queue and compacted it.
	entries, err := svc.Waitlist(ctx, "off-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s3", entries[0].StudentID)
	assert.Equal(t, 1, entries[0].Position)

	// The next freed seat goes to s3, not back to the already-seated s2.
	dropped, err := svc.Drop(ctx, DropRequest{StudentID: "s2", OfferingID: "off-1"})
	require.NoError(t, err)
	require.NotNil(t, dropped.Promoted)
	assert.Equal(t, "s3", dropped.Promoted.StudentID)
}

func TestEnrollmentServiceInactiveOffering(t *testing.T) {
	ledger := newMockLedger()
	waitlist := newMockWaitlist(ledger)
	ledger.waitlist = waitlist
	offerings := &mockOfferings{offerings: map[string]*models.Offering{
		"off-2": {ID: "off-2", Capacity: 10, Active: false},
	}}
	svc := NewEnrollmentService(ledger, waitlist, offerings, validator.New(), zap.NewNop(), nil)
	ctx := context.Background()

	// Enrolled before the offering was deactivated.
	ledger.rows["s1|off-2"] = &models.Enrollment{ID: "s1|off-2", StudentID: "s1", OfferingID: "off-2", Status: models.EnrollmentStatusEnrolled}

	_, err := svc.Enroll(ctx, EnrollRequest{StudentID: "s2", OfferingID: "off-2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	// Dropping out of a deactivated offering still works.
	dropped, err := svc.Drop(ctx, DropRequest{StudentID: "s1", OfferingID: "off-2"})
	require.NoError(t, err)
	assert.False(t, dropped.AlreadyDropped)
	assert.Equal(t, models.EnrollmentStatusDropped, dropped.Enrollment.Status)
}
