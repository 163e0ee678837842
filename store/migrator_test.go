package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldApplyMigration(t *testing.T) {
	assert.True(t, shouldApplyMigration("0.2.1", "0.1.0", "0.2.1"))
	assert.True(t, shouldApplyMigration("0.2.1", "", "0.2.1"))
	assert.False(t, shouldApplyMigration("0.2.1", "0.2.1", "0.2.1"))
	assert.False(t, shouldApplyMigration("0.3.1", "0.2.1", "0.2.1"))
}

func TestValidateMigrationFileName(t *testing.T) {
	require.NoError(t, validateMigrationFileName("00__session_workflow_id.sql"))
	require.Error(t, validateMigrationFileName("session_workflow_id.sql"))
	require.Error(t, validateMigrationFileName("ab__session.sql"))
}

func TestSplitSQL(t *testing.T) {
	script := `-- comment
CREATE TABLE a (x TEXT DEFAULT 'a;b');
CREATE INDEX idx_a ON a (x); -- trailing

INSERT INTO a (x) VALUES ('c')`

	statements := splitSQL(script)
	require.Len(t, statements, 3)
	assert.Contains(t, statements[0], "'a;b'")
	assert.Equal(t, "CREATE INDEX idx_a ON a (x)", statements[1])
	assert.Equal(t, "INSERT INTO a (x) VALUES ('c')", statements[2])
}

func TestRetryPolicyDelay(t *testing.T) {
	p := retryPolicy{attempts: 5, base: 100 * time.Millisecond, max: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3))
	assert.Equal(t, 300*time.Millisecond, p.delay(10))
}
