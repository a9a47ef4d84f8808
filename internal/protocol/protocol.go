// Package protocol implements the single-line text header that precedes every
// transfer:
//
//	UPLOAD <fileName> <totalSizeBytes> <startOffset> <username> <0|1>\n
//	DOWNLOAD <fileName> <startOffset> <username> <0|1>\n
//
// Fields are positional and whitespace separated. There is no quoting, so a
// file name containing whitespace cannot be expressed.
package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode"

	"ftplite/internal/errors"
)

// Verb identifies the operation requested by a command line
type Verb string

const (
	VerbUpload   Verb = "UPLOAD"
	VerbDownload Verb = "DOWNLOAD"
)

// MaxLineLength bounds the header line a server will read.
const MaxLineLength = 1024

// Command is a decoded header line. Numeric fields are kept as the raw tokens
// so that a short line decodes to empty strings instead of failing; use
// Validate and the typed accessors before acting on it.
type Command struct {
	Verb     Verb
	FileName string
	Size     string // UPLOAD only
	Offset   string
	User     string
	Flag     string // compress (UPLOAD) / decompress (DOWNLOAD)
}

// NewUpload builds an UPLOAD command
func NewUpload(fileName string, totalSize, offset int64, user string, compress bool) Command {
	return Command{
		Verb:     VerbUpload,
		FileName: fileName,
		Size:     strconv.FormatInt(totalSize, 10),
		Offset:   strconv.FormatInt(offset, 10),
		User:     user,
		Flag:     formatFlag(compress),
	}
}

// NewDownload builds a DOWNLOAD command
func NewDownload(fileName string, offset int64, user string, decompress bool) Command {
	return Command{
		Verb:     VerbDownload,
		FileName: fileName,
		Offset:   strconv.FormatInt(offset, 10),
		User:     user,
		Flag:     formatFlag(decompress),
	}
}

// Encode serializes the command into a newline-terminated line.
func Encode(cmd Command) string {
	var args []string
	switch cmd.Verb {
	case VerbUpload:
		args = []string{cmd.FileName, cmd.Size, cmd.Offset, cmd.User, cmd.Flag}
	case VerbDownload:
		args = []string{cmd.FileName, cmd.Offset, cmd.User, cmd.Flag}
	}

	var b strings.Builder
	b.WriteString(string(cmd.Verb))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	b.WriteByte('\n')
	return b.String()
}

// Decode splits line on whitespace and maps positional tokens by verb.
// Missing tokens become empty strings; unknown verbs keep only the verb.
func Decode(line string) Command {
	tokens := strings.Fields(line)
	arg := func(i int) string {
		if i+1 < len(tokens) {
			return tokens[i+1]
		}
		return ""
	}

	cmd := Command{}
	if len(tokens) == 0 {
		return cmd
	}
	cmd.Verb = Verb(tokens[0])

	switch cmd.Verb {
	case VerbUpload:
		cmd.FileName = arg(0)
		cmd.Size = arg(1)
		cmd.Offset = arg(2)
		cmd.User = arg(3)
		cmd.Flag = arg(4)
	case VerbDownload:
		cmd.FileName = arg(0)
		cmd.Offset = arg(1)
		cmd.User = arg(2)
		cmd.Flag = arg(3)
	}

	return cmd
}

// Known reports whether the verb is one the protocol defines
func (c Command) Known() bool {
	return c.Verb == VerbUpload || c.Verb == VerbDownload
}

// Validate checks that the fields required by the verb are present and well formed.
func (c Command) Validate() error {
	if !c.Known() {
		return errors.NewProtocolError("validate", "unknown verb "+strconv.Quote(string(c.Verb)), nil)
	}
	if err := ValidateFileName(c.FileName); err != nil {
		return errors.NewProtocolError("validate", "bad file name", err)
	}
	if c.User == "" {
		return errors.NewProtocolError("validate", "missing user", nil)
	}

	offset, err := c.StartOffset()
	if err != nil {
		return err
	}

	if c.Verb == VerbUpload {
		size, err := c.TotalSize()
		if err != nil {
			return err
		}
		if offset > size {
			return errors.NewProtocolError("validate", "offset beyond declared size", nil)
		}
	}

	return nil
}

// TotalSize parses the declared size of an UPLOAD.
func (c Command) TotalSize() (int64, error) {
	return parseNonNegative("size", c.Size)
}

// StartOffset parses the starting offset.
func (c Command) StartOffset() (int64, error) {
	return parseNonNegative("offset", c.Offset)
}

// Compressed reports whether the compression flag is set. Anything other than
// "1" is treated as off.
func (c Command) Compressed() bool {
	return c.Flag == "1"
}

// ReadLine reads one header line of at most MaxLineLength bytes, leaving any
// payload that followed it buffered in r. io.EOF is returned only when the peer
// closed before sending anything; a final unterminated line is returned as is.
func ReadLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return string(line), nil
			}
			if err == io.EOF {
				return "", io.EOF
			}
			return "", errors.NewProtocolError("read_line", "failed to read command", err)
		}
		if b == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		if len(line) >= MaxLineLength {
			return "", errors.NewProtocolError("read_line", "command line too long", nil)
		}
		line = append(line, b)
	}
}

// ValidateFileName rejects names the positional format or the storage layout
// cannot represent safely.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return errors.NewValidationError("file_name", name, "empty")
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return errors.NewValidationError("file_name", name, "contains whitespace")
	case strings.ContainsAny(name, `/\`):
		return errors.NewValidationError("file_name", name, "contains a path separator")
	case name == "." || name == "..":
		return errors.NewValidationError("file_name", name, "contains directory traversal")
	}
	return nil
}

func parseNonNegative(field, raw string) (int64, error) {
	if raw == "" {
		return 0, errors.NewProtocolError("parse", "missing "+field, nil)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewProtocolError("parse", "invalid "+field+" "+strconv.Quote(raw), err)
	}
	if v < 0 {
		return 0, errors.NewProtocolError("parse", "negative "+field, nil)
	}
	return v, nil
}

func formatFlag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
