package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lookup errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Authorization errors
	CodeForbidden       Code = "FORBIDDEN"
	CodeMatchNotMutual  Code = "MATCH_NOT_MUTUAL"
	CodeNotYourRequest  Code = "RESTART_NOT_YOUR_REQUEST"
	CodeInviteeOnly     Code = "INVITATION_INVITEE_ONLY"

	// State machine errors
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeAlreadySubmitted    Code = "SLOT_ALREADY_SUBMITTED"
	CodeRestartNotRequested Code = "RESTART_NOT_REQUESTED"
	CodeRestartPending      Code = "RESTART_ALREADY_REQUESTED"

	// Validation errors
	CodeEmptyUserID            Code = "USER_ID_EMPTY"
	CodeEmptyMatchID           Code = "MATCH_ID_EMPTY"
	CodeEmptySessionID         Code = "SESSION_ID_EMPTY"
	CodeInvalidVariant         Code = "VARIANT_INVALID"
	CodeVariantMismatch        Code = "VARIANT_MISMATCH"
	CodeStatementRoundCount    Code = "STATEMENT_ROUND_COUNT_INVALID"
	CodeStatementCount         Code = "STATEMENT_COUNT_INVALID"
	CodeStatementTextInvalid   Code = "STATEMENT_TEXT_INVALID"
	CodeStatementLieCount      Code = "STATEMENT_LIE_COUNT_INVALID"
	CodeAnswerCount            Code = "ANSWER_COUNT_INVALID"
	CodeAnswerIndexOutOfRange  Code = "ANSWER_INDEX_OUT_OF_RANGE"
	CodeQuestionOutOfRange     Code = "QUESTION_NUMBER_OUT_OF_RANGE"
	CodeUnsupportedAudioMime   Code = "AUDIO_MIME_UNSUPPORTED"
	CodeEmptyAudio             Code = "AUDIO_EMPTY"
	CodeNoteTooLong            Code = "DISCUSSION_NOTE_TOO_LONG"
	CodeNoteIndexOutOfRange    Code = "DISCUSSION_NOTE_INDEX_OUT_OF_RANGE"
	CodeTranscriptionSlotEmpty Code = "TRANSCRIPTION_SLOT_EMPTY"

	// Concurrency errors
	CodeConflict Code = "CONFLICT"

	// Collaborator errors
	CodeMediaUnavailable         Code = "MEDIA_UNAVAILABLE"
	CodeTranscriptionUnavailable Code = "TRANSCRIPTION_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeEmptyUserID,
		CodeEmptyMatchID,
		CodeEmptySessionID,
		CodeInvalidVariant,
		CodeVariantMismatch,
		CodeStatementRoundCount,
		CodeStatementCount,
		CodeStatementTextInvalid,
		CodeStatementLieCount,
		CodeAnswerCount,
		CodeAnswerIndexOutOfRange,
		CodeQuestionOutOfRange,
		CodeUnsupportedAudioMime,
		CodeEmptyAudio,
		CodeNoteTooLong,
		CodeNoteIndexOutOfRange,
		CodeTranscriptionSlotEmpty:
		return http.StatusBadRequest

	// Forbidden - caller is not a participant or wrong role
	case CodeForbidden,
		CodeMatchNotMutual,
		CodeNotYourRequest,
		CodeInviteeOnly:
		return http.StatusForbidden

	// Not found
	case CodeSessionNotFound:
		return http.StatusNotFound

	// Conflict - state doesn't allow operation or concurrent writer won
	case CodeInvalidTransition,
		CodeAlreadySubmitted,
		CodeRestartNotRequested,
		CodeRestartPending,
		CodeConflict:
		return http.StatusConflict

	// Upstream unavailable
	case CodeMediaUnavailable,
		CodeTranscriptionUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
