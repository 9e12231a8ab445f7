package cloudevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantAndCorrelation(t *testing.T) {
	evt := NewWithID("e1", "SecretFound", "svc/secrets", nil)
	evt = WithTenantID(evt, "tenant-7")
	evt = WithCorrelationID(evt, "scan-run-1")
	evt = WithEventVersion(evt, "2")

	assert.Equal(t, "tenant-7", TenantID(evt))
	assert.Equal(t, "scan-run-1", CorrelationID(evt))
	assert.Equal(t, "2", EventVersion(evt))
}

func TestCopyCorrelation(t *testing.T) {
	src := WithCorrelationID(WithTenantID(NewWithID("e1", "ScanCompleted", "svc", nil), "t-1"), "c-1")
	dst := NewWithID("e2", "FindingsIndexed", "svc/indexer", nil).WithExtension("keep", true)

	out := CopyCorrelation(src, dst)

	assert.Equal(t, "t-1", TenantID(out))
	assert.Equal(t, "c-1", CorrelationID(out))
	assert.Equal(t, true, out.Extensions["keep"])
	assert.Empty(t, TenantID(dst), "destination must not be mutated")
}

func TestCopyCorrelationWithoutSourceAttributes(t *testing.T) {
	dst := NewWithID("e2", "t", "s", nil)
	out := CopyCorrelation(NewWithID("e1", "t", "s", nil), dst)
	assert.Nil(t, out.Extensions)
}
