package capacity

// Rough content-size yardsticks used to make a byte count meaningful.
const (
	bytesPerWord     = 5
	bytesPerPDFPage  = 100000
	bytesPerMP3Sec   = 16000
	smallJPEGMinimum = 50000
)

// Breakdown translates a capacity into everyday payload sizes.
type Breakdown struct {
	Bytes      int64 `json:"bytes"`
	Characters int64 `json:"characters"`
	Words      int64 `json:"words"`
	PDFPages   int64 `json:"pdf_pages"`
	MP3Seconds int64 `json:"mp3_seconds"`
	SmallJPEG  bool  `json:"small_jpeg"`
}

// Describe derives a Breakdown from a capacity in bytes.
func Describe(maxBytes int64) Breakdown {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return Breakdown{
		Bytes:      maxBytes,
		Characters: maxBytes,
		Words:      maxBytes / bytesPerWord,
		PDFPages:   maxBytes / bytesPerPDFPage,
		MP3Seconds: maxBytes / bytesPerMP3Sec,
		SmallJPEG:  maxBytes > smallJPEGMinimum,
	}
}
