package render

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

const (
	avifHasIndex      = 0x10
	avifIsInterleaved = 0x100
	aviifKeyframe     = 0x10
)

type fourCC [4]byte

func fcc(s string) fourCC {
	var f fourCC
	copy(f[:], s)
	return f
}

type mainHeader struct {
	MicroSecPerFrame    uint32
	MaxBytesPerSec      uint32
	PaddingGranularity  uint32
	Flags               uint32
	TotalFrames         uint32
	InitialFrames       uint32
	Streams             uint32
	SuggestedBufferSize uint32
	Width               uint32
	Height              uint32
	Reserved            [4]uint32
}

type streamHeader struct {
	Type                fourCC
	Handler             fourCC
	Flags               uint32
	Priority            uint16
	Language            uint16
	InitialFrames       uint32
	Scale               uint32
	Rate                uint32
	Start               uint32
	Length              uint32
	SuggestedBufferSize uint32
	Quality             uint32
	SampleSize          uint32
	Frame               [4]int16
}

type bitmapInfo struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   fourCC
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type waveFormat struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

type indexEntry struct {
	ID     fourCC
	Flags  uint32
	Offset uint32
	Size   uint32
}

// aviWriter streams an OpenDML-free AVI 1.0 file with one MJPEG video stream
// and one mono 16-bit PCM audio stream. Frame and sample totals are fixed up
// front; the RIFF and movi sizes are patched on Close.
type aviWriter struct {
	f         *os.File
	pos       int64
	moviStart int64 // offset of the "movi" fourcc
	index     []indexEntry
}

type aviParams struct {
	Width, Height int
	FPS           int
	Frames        int
	SampleRate    int
	Samples       int
}

func createAVI(path string, p aviParams) (*aviWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create avi: %w", err)
	}
	hdr, err := aviHeader(p)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("write avi header: %w", err)
	}
	return &aviWriter{f: f, pos: int64(len(hdr)), moviStart: int64(len(hdr)) - 4}, nil
}

func aviHeader(p aviParams) ([]byte, error) {
	frameBound := uint32(p.Width * p.Height * 3)
	blockAlign := uint16(2)

	var vids, auds, hdrl bytes.Buffer
	if err := writeChunk(&vids, "strh", streamHeader{
		Type:                fcc("vids"),
		Handler:             fcc("MJPG"),
		Scale:               1,
		Rate:                uint32(p.FPS),
		Length:              uint32(p.Frames),
		SuggestedBufferSize: frameBound,
		Quality:             ^uint32(0),
		Frame:               [4]int16{0, 0, int16(p.Width), int16(p.Height)},
	}); err != nil {
		return nil, err
	}
	if err := writeChunk(&vids, "strf", bitmapInfo{
		Size:        40,
		Width:       int32(p.Width),
		Height:      int32(p.Height),
		Planes:      1,
		BitCount:    24,
		Compression: fcc("MJPG"),
		SizeImage:   frameBound,
	}); err != nil {
		return nil, err
	}
	if err := writeChunk(&auds, "strh", streamHeader{
		Type:                fcc("auds"),
		Scale:               uint32(blockAlign),
		Rate:                uint32(p.SampleRate) * uint32(blockAlign),
		Length:              uint32(p.Samples),
		SuggestedBufferSize: uint32(p.SampleRate*int(blockAlign)/p.FPS) + 2,
		Quality:             ^uint32(0),
		SampleSize:          uint32(blockAlign),
	}); err != nil {
		return nil, err
	}
	if err := writeChunk(&auds, "strf", waveFormat{
		FormatTag:      1,
		Channels:       1,
		SamplesPerSec:  uint32(p.SampleRate),
		AvgBytesPerSec: uint32(p.SampleRate) * uint32(blockAlign),
		BlockAlign:     blockAlign,
		BitsPerSample:  16,
	}); err != nil {
		return nil, err
	}

	if err := writeChunk(&hdrl, "avih", mainHeader{
		MicroSecPerFrame:    uint32(1_000_000 / p.FPS),
		MaxBytesPerSec:      frameBound*uint32(p.FPS) + uint32(p.SampleRate)*uint32(blockAlign),
		Flags:               avifHasIndex | avifIsInterleaved,
		TotalFrames:         uint32(p.Frames),
		Streams:             2,
		SuggestedBufferSize: frameBound,
		Width:               uint32(p.Width),
		Height:              uint32(p.Height),
	}); err != nil {
		return nil, err
	}
	writeList(&hdrl, "strl", vids.Bytes())
	writeList(&hdrl, "strl", auds.Bytes())

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(0)) // patched on Close
	out.WriteString("AVI ")
	writeList(&out, "hdrl", hdrl.Bytes())
	out.WriteString("LIST")
	binary.Write(&out, binary.LittleEndian, uint32(0)) // patched on Close
	out.WriteString("movi")
	return out.Bytes(), nil
}

func writeChunk(buf *bytes.Buffer, id string, v any) error {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	buf.WriteString(id)
	binary.Write(buf, binary.LittleEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
	if body.Len()%2 == 1 {
		buf.WriteByte(0)
	}
	return nil
}

func writeList(buf *bytes.Buffer, kind string, body []byte) {
	buf.WriteString("LIST")
	binary.Write(buf, binary.LittleEndian, uint32(len(body)+4))
	buf.WriteString(kind)
	buf.Write(body)
}

// WriteFrame appends one JPEG-encoded video frame.
func (w *aviWriter) WriteFrame(jpeg []byte) error {
	return w.writeData("00dc", jpeg)
}

// WriteAudio appends little-endian 16-bit PCM samples.
func (w *aviWriter) WriteAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return w.writeData("01wb", pcm)
}

func (w *aviWriter) writeData(id string, data []byte) error {
	hdr := make([]byte, 8, 8+len(data)+1)
	copy(hdr, id)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
	chunk := append(hdr, data...)
	if len(data)%2 == 1 {
		chunk = append(chunk, 0)
	}
	if _, err := w.f.Write(chunk); err != nil {
		return fmt.Errorf("write %s chunk: %w", id, err)
	}
	w.index = append(w.index, indexEntry{
		ID:     fcc(id),
		Flags:  aviifKeyframe,
		Offset: uint32(w.pos - w.moviStart),
		Size:   uint32(len(data)),
	})
	w.pos += int64(len(chunk))
	return nil
}

// Close writes the idx1 index and patches container sizes.
func (w *aviWriter) Close() error {
	defer w.f.Close()
	moviSize := uint32(w.pos - w.moviStart)

	var idx bytes.Buffer
	idx.WriteString("idx1")
	binary.Write(&idx, binary.LittleEndian, uint32(len(w.index)*16))
	if err := binary.Write(&idx, binary.LittleEndian, w.index); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if _, err := w.f.Write(idx.Bytes()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	total := w.pos + int64(idx.Len())

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(total-8))
	if _, err := w.f.WriteAt(size[:], 4); err != nil {
		return fmt.Errorf("patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(size[:], moviSize)
	if _, err := w.f.WriteAt(size[:], w.moviStart-4); err != nil {
		return fmt.Errorf("patch movi size: %w", err)
	}
	return w.f.Sync()
}

// Abort closes and removes a partially written file.
func (w *aviWriter) Abort() {
	name := w.f.Name()
	w.f.Close()
	os.Remove(name)
}
