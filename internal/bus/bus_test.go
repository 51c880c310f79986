package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"resumebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.Update{Kind: domain.UpdateMessages, ConversationID: "c1"})

	select {
	case u := <-b.Subscribe():
		if u.Kind != domain.UpdateMessages || u.ConversationID != "c1" {
			t.Errorf("unexpected update: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := New(2, testLogger())
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Publish(domain.Update{Kind: domain.UpdateResumes, ConversationID: "c1"})
	}
	b.Publish(domain.Update{Kind: domain.UpdateMessages, ConversationID: "newest"})

	// The newest update must still be in the buffer.
	var kinds []domain.UpdateKind
	for {
		select {
		case u := <-b.Subscribe():
			kinds = append(kinds, u.Kind)
			continue
		default:
		}
		break
	}
	if len(kinds) == 0 || kinds[len(kinds)-1] != domain.UpdateMessages {
		t.Errorf("expected newest update last, got %v", kinds)
	}
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	b := New(2, testLogger())
	b.Close()
	b.Close() // double close is safe

	// Must not panic on a closed channel.
	b.Publish(domain.Update{Kind: domain.UpdateMessages})
}
