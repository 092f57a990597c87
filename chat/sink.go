package chat

// Sink receives captured records and the user-facing status lines the
// download loop produces. The output package provides the real
// implementation; engines only depend on this.
type Sink interface {
	// Append buffers one record and echoes it to the console writer.
	Append(Record)
	// Println writes a status line to the console writer.
	Println(string)
}
