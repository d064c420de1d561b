package session

import (
	"context"

	"github.com/sjawhar/mock-interviewer/internal/dispatch"
	"github.com/sjawhar/mock-interviewer/internal/domain"
	"github.com/sjawhar/mock-interviewer/internal/transcript"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) domain.Action
}

type EventBroadcaster interface {
	BroadcastCallStatus(sessionID string, status Status)
	BroadcastLiveTranscript(sessionID string, speaker transcript.Speaker, text string, final bool)
	BroadcastSpeaking(sessionID string, speaker transcript.Speaker, speaking bool)
	BroadcastCallError(sessionID, message string)
	BroadcastNavigate(sessionID, path string)
}

// Archive keeps a copy of every finished transcript.
type Archive interface {
	Save(ctx context.Context, sessionID, title string, utterances []transcript.Utterance) (string, error)
}

// InterviewSource loads the question set for a conduct-mode call.
type InterviewSource interface {
	GetInterview(ctx context.Context, id string) (domain.Interview, error)
}
