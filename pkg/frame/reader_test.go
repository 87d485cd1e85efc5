package frame_test

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/frame"
)

func collectFrames(r *frame.Reader) ([]frame.Frame, error) {
	var frames []frame.Frame
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func collectText(r *frame.TextReader) (string, error) {
	var sb strings.Builder
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(s)
	}
}

var _ = Describe("DecodeMultiplexed", func() {
	It("decodes frames in order", func() {
		input := "0:Hello\n0:, world\n2:[{\"step\":1}]\n"
		frames, err := collectFrames(frame.DecodeMultiplexed(strings.NewReader(input)))
		Expect(err).NotTo(HaveOccurred())
		Expect(frames).To(HaveLen(3))
		Expect(frames[0].Text()).To(Equal("Hello"))
		Expect(frames[1].Text()).To(Equal(", world"))
		Expect(frames[2].Kind).To(Equal(frame.Data))
	})

	It("skips empty and unparseable lines", func() {
		input := "\n\n0:a\ngarbage\n5:unknown\n\n0:b"
		frames, err := collectFrames(frame.DecodeMultiplexed(strings.NewReader(input)))
		Expect(err).NotTo(HaveOccurred())
		Expect(frames).To(HaveLen(2))
		Expect(frames[0].Text()).To(Equal("a"))
		Expect(frames[1].Text()).To(Equal("b"))
	})

	It("reassembles frames split across reads", func() {
		input := "0:abc\n1:{\"function_call\":{\"name\":\"f\"}}\n"
		r := frame.DecodeMultiplexed(iotest.OneByteReader(strings.NewReader(input)))
		frames, err := collectFrames(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(frames).To(HaveLen(2))
		Expect(frames[1].Kind).To(Equal(frame.FunctionCall))
	})

	It("surfaces transport errors", func() {
		boom := errors.New("boom")
		r := frame.DecodeMultiplexed(iotest.ErrReader(boom))
		_, err := r.Next()
		Expect(err).To(MatchError(boom))
	})
})

var _ = Describe("DecodeSimple", func() {
	It("returns the whole stream as text", func() {
		text, err := collectText(frame.DecodeSimple(strings.NewReader("Hello, world\nsecond line")))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("Hello, world\nsecond line"))
	})

	It("keeps multi-byte runes intact across reads", func() {
		input := "héllo 世界 🌍"
		r := frame.DecodeSimple(iotest.OneByteReader(strings.NewReader(input)))
		for {
			s, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.ContainsRune(s, '\uFFFD')).To(BeFalse())
		}

		text, err := collectText(frame.DecodeSimple(iotest.HalfReader(strings.NewReader(input))))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal(input))
	})

	It("replaces a truncated trailing sequence", func() {
		text, err := collectText(frame.DecodeSimple(strings.NewReader("ok\xe4\xb8")))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("ok\uFFFD"))
	})

	It("returns text read before a transport error", func() {
		boom := errors.New("boom")
		r := frame.DecodeSimple(io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(boom)))
		text, err := collectText(r)
		Expect(err).To(MatchError(boom))
		Expect(text).To(Equal("partial"))
	})
})
