package wire

import "encoding/binary"

// Writer is the append-only counterpart of Cursor.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) Bytes(p []byte) *Writer {
	w.buf = append(w.buf, p...)
	return w
}

// Zero appends n reserved bytes.
func (w *Writer) Zero(n int) *Writer {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
	return w
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Finish() []byte {
	return w.buf
}
