package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/corpix/uarand"
)

var acceptLanguages = []string{
	"en-GB,en;q=0.9",
	"en-GB,en-US;q=0.9,en;q=0.8",
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8,en-US;q=0.6",
}

// Session is the identity bundle attached to every outbound request: a
// user-agent, a header set and cookie state. It is replaced wholesale by
// Rotate whenever a block is detected, never partially mutated.
type Session struct {
	ID        string
	UserAgent string
	Headers   map[string]string
	Cookies   map[string]string
	CreatedAt time.Time
}

// New produces a fresh identity.
func New() *Session {
	s := &Session{}
	s.Rotate()
	return s
}

// Rotate replaces all fields of the session in place with a newly generated
// identity so that existing references observe the new one. Pure data
// construction; there are no error conditions.
func (s *Session) Rotate() {
	ua := uarand.GetRandom()
	now := time.Now()
	s.ID = identity(ua, now)
	s.UserAgent = ua
	s.Headers = map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": acceptLanguages[rand.Intn(len(acceptLanguages))],
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	}
	s.Cookies = make(map[string]string)
	s.CreatedAt = now
}

func identity(ua string, t time.Time) string {
	hash := sha256.New()
	hash.Write([]byte(fmt.Sprintf("%s-%d-%d", ua, t.UnixNano(), rand.Int63())))
	return hex.EncodeToString(hash.Sum(nil))[:16]
}
