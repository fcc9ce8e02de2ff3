// Package protocol implements the RagTech frame codec: a pure, total
// decoder from raw response bytes to a structured diagnostic view. It
// never panics, regardless of input length.
package protocol

import "fmt"

// ByteView is one entry of the decoded frame's byte map.
type ByteView struct {
	Idx int    `json:"idx"`
	Hex string `json:"hex"`
	Dec int    `json:"dec"`
}

// Header carries the frame's fixed-position fields. All fields are always
// present, defaulting to zero on short or empty input.
type Header struct {
	StartByteHex string `json:"start_byte_hex"`
	FrameCodeHex string `json:"frame_code_hex"`
	DeclaredLen  int    `json:"declared_len"`
	ActualLen    int    `json:"actual_len"`
	ChecksumHex  string `json:"checksum_hex"`
	LengthMatch  bool   `json:"length_match"`
}

// EstimatedMetrics holds the frame's telemetry estimates plus the
// alignment and confidence verdicts they depend on. Every estimate is a
// pointer so that "absent" (not frame-aligned) serializes as JSON null
// rather than a fabricated zero value.
type EstimatedMetrics struct {
	VInputEst         *float64 `json:"vInput_est"`
	VOutputEst        *float64 `json:"vOutput_est"`
	VBatteryEst       *float64 `json:"vBattery_est"`
	FOutputEst        *float64 `json:"fOutput_est"`
	CBatteryEst       *float64 `json:"cBattery_est"`
	POutputEst        *float64 `json:"pOutput_est"`
	TemperatureEst    *float64 `json:"temperature_est"`
	FrameAligned      bool     `json:"frame_aligned"`
	MappingConfidence string   `json:"mapping_confidence"`
	MappingNote       string   `json:"mapping_note"`
}

// DecodedView is the full result of decoding one response frame.
type DecodedView struct {
	Header        Header           `json:"header"`
	PayloadHex    string           `json:"payload_hex"`
	ByteMap       []ByteView       `json:"byte_map"`
	WordsLE       []uint16         `json:"words_le"`
	WordsBE       []uint16         `json:"words_be"`
	LikelyMetrics EstimatedMetrics `json:"likely_metrics"`
	Notes         []string         `json:"notes"`
}

const mappingNote = "Offsets/scales inferred from observed frames; keep raw bytes for verification"

var decodeNotes = []string{
	"Decoded from raw CDC frame without write/control commands",
	"Likely metrics are marked experimental and should be cross-validated",
}

func byteAt(frame []byte, i int) byte {
	if i < 0 || i >= len(frame) {
		return 0
	}
	return frame[i]
}

// u16BE reads a big-endian 16-bit word starting at index i, returning 0
// if either byte is out of range.
func u16BE(frame []byte, i int) uint16 {
	return uint16(byteAt(frame, i))<<8 | uint16(byteAt(frame, i+1))
}

// Decode converts a raw response frame into its diagnostic view. It never
// panics: every field degrades to a zero-equivalent value when the input
// is too short to contain it.
func Decode(frame []byte) DecodedView {
	n := len(frame)

	header := Header{
		StartByteHex: fmt.Sprintf("0x%02X", byteAt(frame, 0)),
		FrameCodeHex: fmt.Sprintf("0x%02X", byteAt(frame, 1)),
		DeclaredLen:  int(byteAt(frame, 1)),
		ActualLen:    n,
		ChecksumHex:  fmt.Sprintf("0x%02X", byte(0)),
	}
	if n > 0 {
		header.ChecksumHex = fmt.Sprintf("0x%02X", frame[n-1])
	}
	header.LengthMatch = header.DeclaredLen == header.ActualLen

	payloadHex := ""
	if n > 3 {
		payloadHex = hexUpper(frame[2 : n-1])
	}

	wordsLE := make([]uint16, 0)
	wordsBE := make([]uint16, 0)
	for idx := 2; idx+1 < n-1; idx += 2 {
		lo, hi := frame[idx], frame[idx+1]
		wordsLE = append(wordsLE, uint16(lo)|uint16(hi)<<8)
		wordsBE = append(wordsBE, uint16(hi)|uint16(lo)<<8)
	}

	byteMap := make([]ByteView, 0, n)
	for i := 0; i < n; i++ {
		byteMap = append(byteMap, ByteView{Idx: i, Hex: fmt.Sprintf("%02X", frame[i]), Dec: int(frame[i])})
	}

	frameAligned := n >= 31 &&
		byteAt(frame, 0) == 0xAA &&
		byteAt(frame, 1) == 0x21 &&
		byteAt(frame, 2) == 0x00 &&
		byteAt(frame, 3) == 0x0C

	metrics := EstimatedMetrics{
		FrameAligned:      frameAligned,
		MappingConfidence: "insufficient_frame_alignment",
		MappingNote:       mappingNote,
	}
	if frameAligned {
		metrics.MappingConfidence = "experimental"
		vInput := float64(u16BE(frame, 11)) / 504.0
		vOutput := float64(u16BE(frame, 23)) / 366.0
		vBattery := float64(u16BE(frame, 20)) / 1249.0
		fOutput := float64(u16BE(frame, 27)) / 77.4
		cBattery := float64(byteAt(frame, 26))
		pOutput := float64(byteAt(frame, 27))
		temperature := float64(byteAt(frame, 15))
		metrics.VInputEst = &vInput
		metrics.VOutputEst = &vOutput
		metrics.VBatteryEst = &vBattery
		metrics.FOutputEst = &fOutput
		metrics.CBatteryEst = &cBattery
		metrics.POutputEst = &pOutput
		metrics.TemperatureEst = &temperature
	}

	return DecodedView{
		Header:        header,
		PayloadHex:    payloadHex,
		ByteMap:       byteMap,
		WordsLE:       wordsLE,
		WordsBE:       wordsBE,
		LikelyMetrics: metrics,
		Notes:         append([]string(nil), decodeNotes...),
	}
}

func hexUpper(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
