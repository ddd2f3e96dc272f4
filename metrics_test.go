package guestmem

import "testing"

func TestMetricsRegisterOp(t *testing.T) {
	ResetMetrics()

	before := GetMetrics()
	if before.RegisterOps != 0 {
		t.Fatalf("expected RegisterOps=0, got %d", before.RegisterOps)
	}

	recordRegisterOp()
	recordRegisterOp()

	after := GetMetrics()
	if after.RegisterOps != 2 {
		t.Errorf("expected RegisterOps=2, got %d", after.RegisterOps)
	}
}

func TestMetricsReset(t *testing.T) {
	recordRegisterOp()
	recordFaultOp()
	ResetMetrics()

	m := GetMetrics()
	if m.RegisterOps != 0 || m.FaultOperations != 0 {
		t.Errorf("expected all counters zero after reset, got %+v", m)
	}
}
