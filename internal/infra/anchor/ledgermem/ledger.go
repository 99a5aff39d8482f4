// Package ledgermem is an in-process ledger for local runs and tests. Blocks
// live only as long as the process.
package ledgermem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"pathledger/internal/domain"
)

type block struct {
	tagHex  string
	dataHex string
}

type Ledger struct {
	mu        sync.Mutex
	blocks    map[string]block
	byTag     map[string]string
	seq       int
	publishes int
	failWith  error
}

func New() *Ledger {
	return &Ledger{
		blocks: make(map[string]block),
		byTag:  make(map[string]string),
	}
}

func (l *Ledger) Name() string {
	return "memory"
}

func (l *Ledger) PublishTagged(ctx context.Context, tagHex, dataHex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishes++
	if l.failWith != nil {
		return "", l.failWith
	}
	l.seq++
	sum := sha256.Sum256([]byte(tagHex + "|" + dataHex + "|" + strconv.Itoa(l.seq)))
	ref := "0x" + hex.EncodeToString(sum[:])
	l.blocks[ref] = block{tagHex: strings.ToLower(tagHex), dataHex: strings.ToLower(dataHex)}
	// First block for a tag wins, as with a receipt index.
	if _, ok := l.byTag[strings.ToLower(tagHex)]; !ok {
		l.byTag[strings.ToLower(tagHex)] = ref
	}
	return ref, nil
}

// FetchTagged accepts a block id or a hex tag.
func (l *Ledger) FetchTagged(ctx context.Context, refOrTag string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(refOrTag)
	if b, ok := l.blocks[key]; ok {
		return b.tagHex, b.dataHex, nil
	}
	if ref, ok := l.byTag[key]; ok {
		b := l.blocks[ref]
		return b.tagHex, b.dataHex, nil
	}
	return "", "", fmt.Errorf("%w: no block %s", domain.ErrNotFound, refOrTag)
}

// PublishCount counts publish calls, failed ones included.
func (l *Ledger) PublishCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publishes
}

// FailWith makes every later publish return err. Nil restores normal operation.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	l.failWith = err
	l.mu.Unlock()
}

// Tamper overwrites the data of an existing block.
func (l *Ledger) Tamper(ref, dataHex string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blocks[strings.ToLower(ref)]
	if !ok {
		return false
	}
	b.dataHex = strings.ToLower(dataHex)
	l.blocks[strings.ToLower(ref)] = b
	return true
}

var _ domain.Ledger = (*Ledger)(nil)
