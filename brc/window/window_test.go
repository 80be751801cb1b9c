package window

import "testing"

func TestMaxFrameSizePanicIsUnlimited(t *testing.T) {
	l := New(10, 1000000, 30, 33333)
	if got := l.MaxFrameSize(true, false, 0); got != 1<<32-1 {
		t.Errorf("MaxFrameSize(panic) = %d, want unlimited", got)
	}
}

func TestMaxFrameSizeSceneHeadRelaxed(t *testing.T) {
	l := New(10, 1000000, 30, 33333)
	steady := l.MaxFrameSize(false, false, 1)
	relaxed := l.MaxFrameSize(false, true, 1)
	if relaxed < steady {
		t.Errorf("MaxFrameSize(sceneHead) = %d, want >= steady cap %d", relaxed, steady)
	}
}

func TestUpdateShrinksBudgetAfterLargeFrame(t *testing.T) {
	l := New(5, 1000000, 30, 33333)
	before := l.MaxFrameSize(false, false, 1)

	l.Update(1000000, 0, false, false, 0)

	after := l.MaxFrameSize(false, false, 1)
	if after >= before {
		t.Errorf("MaxFrameSize() after large frame = %d, want < %d", after, before)
	}
}

func TestResetRestoresBudget(t *testing.T) {
	l := New(5, 1000000, 30, 33333)
	before := l.MaxFrameSize(false, false, 1)

	l.Update(1000000, 0, false, false, 0)
	l.Reset()

	after := l.MaxFrameSize(false, false, 1)
	if after != before {
		t.Errorf("MaxFrameSize() after Reset = %d, want %d", after, before)
	}
}
