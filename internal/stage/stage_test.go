package stage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/schema"
	"github.com/aqueducts/aqueducts/internal/sqlengine"
)

func newTestExecutor(t *testing.T) (*Executor, sqlengine.Context) {
	t.Helper()
	sqlCtx, err := sqlengine.NewSQLiteContext(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlCtx.Close() })

	require.NoError(t, sqlCtx.RegisterTable(context.Background(), "orders",
		schema.Schema{Fields: []schema.Field{{Name: "amount", Type: schema.Int64}}},
		[][]any{{int64(10)}, {int64(20)}}))

	return New(sqlCtx, progress.Null{}, zerolog.Nop()), sqlCtx
}

func TestExecutor_RunRegistersStageOutput(t *testing.T) {
	exec, sqlCtx := newTestExecutor(t)

	levels := [][]pipeline.Stage{
		{{Name: "totals", Query: "SELECT SUM(amount) AS total FROM orders"}},
	}
	require.NoError(t, exec.Run(context.Background(), levels))

	plan, err := sqlCtx.SQL(context.Background(), "SELECT total FROM totals")
	require.NoError(t, err)
	df, err := plan.Execute(context.Background())
	require.NoError(t, err)
	rows, err := sqlengine.Collect(context.Background(), df)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(30)}}, rows)
}

func TestExecutor_RunsLevelsInDeclaredOrder(t *testing.T) {
	exec, _ := newTestExecutor(t)

	levels := [][]pipeline.Stage{
		{{Name: "doubled", Query: "SELECT amount * 2 AS amount FROM orders"}},
		{{Name: "tripled", Query: "SELECT amount * 3 AS amount FROM doubled"}},
	}
	require.NoError(t, exec.Run(context.Background(), levels))
	require.Equal(t, []string{"doubled", "tripled"}, exec.registered)
}

func TestExecutor_RunsStagesWithinALevelConcurrently(t *testing.T) {
	exec, sqlCtx := newTestExecutor(t)

	levels := [][]pipeline.Stage{
		{
			{Name: "doubled", Query: "SELECT amount * 2 AS amount FROM orders"},
			{Name: "halved", Query: "SELECT amount / 2 AS amount FROM orders"},
		},
		{
			{Name: "combined", Query: "SELECT (SELECT SUM(amount) FROM doubled) + (SELECT SUM(amount) FROM halved) AS total"},
		},
	}
	require.NoError(t, exec.Run(context.Background(), levels))

	plan, err := sqlCtx.SQL(context.Background(), "SELECT total FROM combined")
	require.NoError(t, err)
	df, err := plan.Execute(context.Background())
	require.NoError(t, err)
	rows, err := sqlengine.Collect(context.Background(), df)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(75)}}, rows)
}

func TestExecutor_RunFailsOnBadQuery(t *testing.T) {
	exec, _ := newTestExecutor(t)

	levels := [][]pipeline.Stage{
		{{Name: "broken", Query: "SELECT FROM WHERE"}},
	}
	err := exec.Run(context.Background(), levels)
	require.Error(t, err)
}

func TestExecutor_TeardownDeregistersInReverseOrder(t *testing.T) {
	exec, sqlCtx := newTestExecutor(t)

	levels := [][]pipeline.Stage{
		{{Name: "doubled", Query: "SELECT amount * 2 AS amount FROM orders"}},
		{{Name: "tripled", Query: "SELECT amount * 3 AS amount FROM doubled"}},
	}
	require.NoError(t, exec.Run(context.Background(), levels))
	require.NoError(t, exec.Teardown(context.Background()))

	_, err := sqlCtx.SQL(context.Background(), "SELECT * FROM doubled")
	require.Error(t, err)
}
