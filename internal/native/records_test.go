package native

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellmewhen/internal/event"
)

// encodeNotifyRecords builds a buffer in the FILE_NOTIFY_INFORMATION layout.
func encodeNotifyRecords(records []notifyRecord) []byte {
	var buf []byte
	for i, record := range records {
		units := utf16.Encode([]rune(record.Name))
		size := notifyHeaderSize + 2*len(units)
		if padding := size % 4; padding != 0 {
			size += 4 - padding
		}
		entry := make([]byte, size)
		if i < len(records)-1 {
			binary.LittleEndian.PutUint32(entry[0:], uint32(size))
		}
		binary.LittleEndian.PutUint32(entry[4:], record.Action)
		binary.LittleEndian.PutUint32(entry[8:], uint32(2*len(units)))
		for j, unit := range units {
			binary.LittleEndian.PutUint16(entry[notifyHeaderSize+2*j:], unit)
		}
		buf = append(buf, entry...)
	}
	return buf
}
func TestParseNotifyRecordsWalksEveryRecord(t *testing.T) {
	buf := encodeNotifyRecords([]notifyRecord{
		{Action: fileActionAdded, Name: "a.txt"},
		{Action: fileActionModified, Name: "dossier/naïve.txt"},
		{Action: fileActionRemoved, Name: "b"},
	})

	records, err := parseNotifyRecords(buf)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, notifyRecord{Action: fileActionAdded, Name: "a.txt"}, records[0])
	assert.Equal(t, "dossier/naïve.txt", records[1].Name)
	assert.Equal(t, uint32(fileActionRemoved), records[2].Action)
}

func TestParseNotifyRecordsRejectsTruncatedBuffer(t *testing.T) {
	buf := encodeNotifyRecords([]notifyRecord{{Action: fileActionAdded, Name: "long-name.txt"}})

	_, err := parseNotifyRecords(buf[:notifyHeaderSize+4])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errMalformedRecords))

	_, err = parseNotifyRecords(buf[:4])
	assert.True(t, errors.Is(err, errMalformedRecords))
}

func TestParseNotifyRecordsRejectsOffsetPastEnd(t *testing.T) {
	buf := encodeNotifyRecords([]notifyRecord{{Action: fileActionAdded, Name: "a"}})
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)+64))

	records, err := parseNotifyRecords(buf)
	require.Error(t, err)
	assert.Len(t, records, 1)
}

func newTestTranslator(dir, only string) *changeTranslator {
	translator := newChangeTranslator(dir, only, 50*time.Millisecond)
	translator.isDir = func(path string) bool {
		return filepath.Base(path) == "sub"
	}
	return translator
}

func TestTranslatorPairsRename(t *testing.T) {
	dir := filepath.FromSlash("/watched")
	translator := newTestTranslator(dir, "")
	now := time.Now()

	events := translator.translate([]notifyRecord{
		{Action: fileActionRenamedOldName, Name: "old.txt"},
		{Action: fileActionRenamedNewName, Name: "new.txt"},
	}, now)

	require.Len(t, events, 1)
	assert.Equal(t, event.FsRenamed, events[0].Kind)
	assert.Equal(t, filepath.Join(dir, "old.txt"), events[0].From)
	assert.Equal(t, filepath.Join(dir, "new.txt"), events[0].To)
}

func TestTranslatorPairsRenameAcrossBuffers(t *testing.T) {
	translator := newTestTranslator("/watched", "")
	now := time.Now()

	first := translator.translate([]notifyRecord{{Action: fileActionRenamedOldName, Name: "old.txt"}}, now)
	assert.Empty(t, first)
	deadline, ok := translator.deadline()
	require.True(t, ok)
	assert.Equal(t, now.Add(DefaultRenameWindow), deadline)
	assert.Empty(t, translator.expire(now.Add(10*time.Millisecond)))

	second := translator.translate([]notifyRecord{{Action: fileActionRenamedNewName, Name: "new.txt"}}, now.Add(20*time.Millisecond))
	require.Len(t, second, 1)
	assert.Equal(t, event.FsRenamed, second[0].Kind)
	_, ok = translator.deadline()
	assert.False(t, ok)
}

func TestTranslatorDegradesUnmatchedOldName(t *testing.T) {
	translator := newTestTranslator("/watched", "")
	now := time.Now()

	events := translator.translate([]notifyRecord{
		{Action: fileActionRenamedOldName, Name: "gone.txt"},
		{Action: fileActionAdded, Name: "other.txt"},
	}, now)
	require.Len(t, events, 2)
	assert.Equal(t, event.FsDeleted, events[0].Kind)
	assert.Equal(t, filepath.Join("/watched", "gone.txt"), events[0].Path)
	assert.Equal(t, event.FsCreated, events[1].Kind)

	translator.translate([]notifyRecord{{Action: fileActionRenamedOldName, Name: "late.txt"}}, now)
	expired := translator.expire(now.Add(time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, event.FsDeleted, expired[0].Kind)
	for _, change := range append(events, expired...) {
		assert.True(t, change.Valid(), "event must be well formed: %+v", change)
	}
}

func TestTranslatorUnmatchedNewNameIsCreated(t *testing.T) {
	translator := newTestTranslator("/watched", "")
	events := translator.translate([]notifyRecord{{Action: fileActionRenamedNewName, Name: "arrived.txt"}}, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, event.FsCreated, events[0].Kind)
}

func TestTranslatorSkipsDirectoryModified(t *testing.T) {
	translator := newTestTranslator("/watched", "")
	events := translator.translate([]notifyRecord{
		{Action: fileActionModified, Name: "sub"},
		{Action: fileActionModified, Name: "file.txt"},
		{Action: 42, Name: "odd.txt"},
	}, time.Now())
	require.Len(t, events, 2)
	assert.Equal(t, filepath.Join("/watched", "file.txt"), events[0].Path)
	assert.Equal(t, event.FsModified, events[1].Kind, "unknown actions fall back to Modified")
}

func TestTranslatorFileTargetFilter(t *testing.T) {
	translator := newTestTranslator("/watched", "target.txt")
	now := time.Now()
	events := translator.translate([]notifyRecord{
		{Action: fileActionModified, Name: "other.txt"},
		{Action: fileActionModified, Name: "TARGET.txt"},
		{Action: fileActionRenamedOldName, Name: "target.txt"},
		{Action: fileActionRenamedNewName, Name: "renamed.txt"},
	}, now)
	require.Len(t, events, 2)
	assert.Equal(t, event.FsModified, events[0].Kind)
	assert.Equal(t, event.FsRenamed, events[1].Kind)
}
