package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db), mock
}

func TestCreate_AggregationFailureRollsBack(t *testing.T) {
	// GIVEN: A database whose aggregation query fails mid-create
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM planillas\s+WHERE driver_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO planillas`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM work_days\s+WHERE planilla_id = \? AND day = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO work_days`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`LEFT JOIN surcharge_lines`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	svc := recargo.NewService(store)
	no := false

	// WHEN: Creating a planilla with one plain day
	_, err := svc.Create(context.Background(), recargo.CreateInput{
		DriverID: "driver-1", VehicleID: "vehicle-1", CompanyID: "company-1",
		Month: 3, Year: 2025,
		Days: []recargo.DayInput{{
			Day: 3, Start: decimal.NewFromInt(8), End: decimal.NewFromInt(16), IsSunday: &no, IsHoliday: &no,
		}},
		Actor: "user-1",
	})

	// THEN: An integrity failure is returned and the transaction rolled back
	assert.ErrorIs(t, err, generic.ErrIntegrity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_HistoryFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO change_records`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(repo recargo.Repository) error {
		_, err := recargo.ChangeHistory{}.RecordDeletion(context.Background(), repo,
			recargo.PlanillaState{ID: "p-1", Version: 1}, 2, "user-1", "")
		return err
	})

	assert.ErrorIs(t, err, generic.ErrIntegrity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE planillas SET state = \?`).
		WithArgs("settled", "user-1", sqlmock.AnyArg(), "pending", "p-1", "p-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var moved int
	err := store.WithTx(context.Background(), func(repo recargo.Repository) error {
		var err error
		moved, err = repo.TransitionState(context.Background(), []string{"p-1", "p-2"},
			[]recargo.State{recargo.StatePending}, recargo.StateSettled, "user-1", testTime)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}
