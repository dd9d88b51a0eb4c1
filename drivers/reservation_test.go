package drivers

import "testing"

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestReserveExclusivity(t *testing.T) {
	table := NewReservationTable()

	assertBools(t, table.Reserve(3, ModeMonitor), true)
	assertBools(t, table.Reserve(3, ModeDrive), false)

	mode, count, held := table.Claim(3)
	assertBools(t, held, true)
	assertInts(t, int(mode), int(ModeMonitor))
	assertInts(t, count, 1)
}

func TestReserveSameModeCounts(t *testing.T) {
	table := NewReservationTable()

	assertBools(t, table.Reserve(7, ModeDrive), true)
	assertBools(t, table.Reserve(7, ModeDrive), true)
	assertBools(t, table.Reserve(7, ModeDrive), true)

	_, count, _ := table.Claim(7)
	assertInts(t, count, 3)
}

func TestReleaseBalance(t *testing.T) {
	table := NewReservationTable()

	for i := 0; i < 4; i++ {
		table.Reserve(11, ModeMonitor)
	}
	for i := 0; i < 4; i++ {
		table.Release(11)
	}

	_, _, held := table.Claim(11)
	assertBools(t, held, false)

	t.Run("released pin is free for the other mode", func(t *testing.T) {
		assertBools(t, table.Reserve(11, ModeDrive), true)
	})
}

func TestReleaseUnmatchedIsNoOp(t *testing.T) {
	table := NewReservationTable()

	table.Release(5)
	table.Reserve(5, ModeMonitor)
	table.Release(5)
	table.Release(5)

	assertBools(t, table.Reserve(5, ModeDrive), true)
	_, count, _ := table.Claim(5)
	assertInts(t, count, 1)
}

func TestFailedReserveDoesNotMutate(t *testing.T) {
	table := NewReservationTable()

	table.Reserve(2, ModeDrive)
	table.Reserve(2, ModeMonitor)
	table.Reserve(2, ModeMonitor)

	_, count, _ := table.Claim(2)
	assertInts(t, count, 1)

	table.Release(2)
	_, _, held := table.Claim(2)
	assertBools(t, held, false)
}
