package stat

import "testing"

func TestStatRoundTrip(t *testing.T) {
	var st Stat_t
	st.Wdev(7)
	st.Wino(42)
	st.Wmode(0644)
	st.Wsize(1024)
	st.Wnlink(1)
	st.Wblocks(2)

	if st.Rino() != 42 || st.Mode() != 0644 || st.Size() != 1024 {
		t.Fatalf("unexpected stat contents: %+v", st)
	}
	if st.Nlink() != 1 || st.Blocks() != 2 {
		t.Fatalf("unexpected link/block counts: %+v", st)
	}
	if len(st.Bytes()) == 0 {
		t.Fatal("Bytes() must expose a non-empty raw view")
	}
}
