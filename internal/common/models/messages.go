package models

// User facing answers shared by the protocol server and the backend API.
const (
	MsgWebPrefix       = "From web: "
	MsgNothingFound    = "I couldn’t find anything in documents or web search."
	MsgScopedNotFound  = "I couldn’t find anything about that in the uploaded documents. If your document is a scanned PDF, enable OCR or upload a text-based PDF/TXT."
	MsgWebInstead      = "No relevant info in your docs; here are some web results instead."
	MsgServiceDown     = "The search service is unavailable right now. Please try again."
	MsgUploaded        = "File '%s' uploaded and ingested successfully! (%d chunks)"
	MsgNoText          = "Could not extract text from file (is it scanned?)."
	MsgUnsupportedType = "Unsupported file type"
)
