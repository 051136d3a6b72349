package olap

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestParseQueries_SplitsOnSemicolonAndNewline(t *testing.T) {
	contents := "SELECT 1;\nSELECT 2\nSELECT 3;"
	got := ParseQueries(contents)
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;", "SELECT 3;"}, got)
}

func TestParseQueries_DropsTrailingEmptyFragment(t *testing.T) {
	got := ParseQueries("SELECT 1;\n")
	assert.Equal(t, []string{"SELECT 1;"}, got)
}

func TestParseQueries_Empty(t *testing.T) {
	assert.Empty(t, ParseQueries(""))
	assert.Empty(t, ParseQueries("   \n  "))
}

func TestParseQueries_TruncatesAt3000(t *testing.T) {
	var b []byte
	for i := 0; i < 3500; i++ {
		b = append(b, []byte(fmt.Sprintf("SELECT %d;", i))...)
	}
	got := ParseQueries(string(b))
	assert.Len(t, got, maxQueries)
}

func TestPartition_RoundRobin(t *testing.T) {
	queries := []string{"a;", "b;", "c;", "d;", "e;"}
	parts := Partition(queries, 2)
	assert.Equal(t, []string{"a;", "c;", "e;"}, parts[0])
	assert.Equal(t, []string{"b;", "d;"}, parts[1])
}

func TestPartition_SingleQueryManyWorkers(t *testing.T) {
	queries := []string{"a;"}
	parts := Partition(queries, 3)
	assert.Equal(t, []string{"a;"}, parts[0])
	assert.Empty(t, parts[1])
	assert.Empty(t, parts[2])
}

func TestExecute_EmptyWorkload_NoWorkerStarted(t *testing.T) {
	called := false
	connect := func(ctx context.Context) (*pgx.Conn, error) {
		called = true
		return nil, nil
	}
	result := Execute(context.Background(), "", 4, connect)
	assert.Equal(t, Result{}, result)
	assert.False(t, called)
}

func TestExecute_ConnectFailure_Invalidates(t *testing.T) {
	connect := func(ctx context.Context) (*pgx.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}
	result := Execute(context.Background(), "SELECT 1;\nSELECT 2;", 2, connect)
	assert.Equal(t, 0.0, result.Throughput)
	assert.Equal(t, invalidLatencySentinel, result.AvgLatency)
}
