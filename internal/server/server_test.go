package server_test

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockwire/classicserver/internal/buffer"
	"github.com/blockwire/classicserver/internal/classic"
	"github.com/blockwire/classicserver/internal/server"
	"github.com/blockwire/classicserver/internal/world"
)

const testSalt = "abcdef0123456789"

func newTestFactory(t *testing.T) *server.Factory {
	t.Helper()
	dir := t.TempDir()
	worlds := world.NewManager(dir)
	require.NoError(t, worlds.Setup())

	f, err := server.NewFactoryWithSalt(server.Info{
		Name:       "Test Server",
		MOTD:       "test motd",
		Software:   "classicserver-test",
		Public:     false,
		MaxPlayers: 8,
	}, worlds, zerolog.Nop(), testSalt)
	require.NoError(t, err)
	return f
}

// writePlayerIdentification encodes and writes the fixed downstream
// PlayerIdentification frame a real Classic client would send.
func writePlayerIdentification(t *testing.T, conn net.Conn, username, verifyKey string) {
	t.Helper()
	b := buffer.New(nil)
	b.WriteU8(classic.ProtocolVersion)
	b.WriteString(username, 0)
	b.WriteString(verifyKey, 0)
	b.WriteU8(0)

	frame := append([]byte{classic.IDPlayerIdentification}, b.Bytes()...)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func authKey(salt, username string) string {
	sum := md5.Sum([]byte(salt + username))
	return hex.EncodeToString(sum[:])
}

// readFrame reads a single id-prefixed upstream frame, using the fixed
// body length table from spec §4.2.
func readFrame(t *testing.T, conn net.Conn) (id uint8, body []byte) {
	t.Helper()
	idBuf := make([]byte, 1)
	_, err := io.ReadFull(conn, idBuf)
	require.NoError(t, err)
	id = idBuf[0]

	length, ok := upstreamBodyLength[id]
	require.True(t, ok, "unknown upstream id %d", id)

	body = make([]byte, length)
	if length > 0 {
		_, err := io.ReadFull(conn, body)
		require.NoError(t, err)
	}
	return id, body
}

var upstreamBodyLength = map[uint8]int{
	classic.IDServerIdentification:         1 + buffer.StringLength + buffer.StringLength + 1,
	classic.IDPing:                         0,
	classic.IDLevelInitialize:              0,
	classic.IDLevelDataChunk:               2 + buffer.ArrayLength + 1,
	classic.IDLevelFinalize:                2 + 2 + 2,
	classic.IDSetBlockServer:               2 + 2 + 2 + 1,
	classic.IDSpawnPlayer:                  1 + buffer.StringLength + 2 + 2 + 2 + 1 + 1,
	classic.IDPositionAndOrientationStatic: 1 + 2 + 2 + 2 + 1 + 1,
	classic.IDPositionAndOrientationUpdate: 1 + 1 + 1 + 1 + 1 + 1,
	classic.IDDespawnPlayer:                1,
	classic.IDMessage:                      1 + buffer.StringLength,
	classic.IDDisconnectPlayer:             buffer.StringLength,
}

// readUntilLevelFinalize drains the leading global join/leave announcement
// Message frames a join or teleport always produces, then
// ServerIdentification, LevelInitialize, every LevelDataChunk and the
// terminal LevelFinalize, per spec S1.
func readUntilLevelFinalize(t *testing.T, conn net.Conn) {
	t.Helper()

	id, _ := readFrame(t, conn)
	for id == classic.IDMessage {
		id, _ = readFrame(t, conn)
	}
	require.Equal(t, uint8(classic.IDServerIdentification), id)

	id, _ = readFrame(t, conn)
	require.Equal(t, uint8(classic.IDLevelInitialize), id)

	for {
		id, _ = readFrame(t, conn)
		if id != classic.IDLevelDataChunk {
			break
		}
	}
	require.Equal(t, uint8(classic.IDLevelFinalize), id)
}

// readSkippingMessages drains any leading global announcement Message
// frames (join/leave broadcasts reach every connection, including
// bystanders) and returns the first frame that isn't one.
func readSkippingMessages(t *testing.T, conn net.Conn) (id uint8, body []byte) {
	t.Helper()
	for {
		id, body = readFrame(t, conn)
		if id != classic.IDMessage {
			return id, body
		}
	}
}

func withDeadline(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
}

func TestAuthSuccessJoinFlow(t *testing.T) {
	f := newTestFactory(t)
	server1, client1 := net.Pipe()
	defer client1.Close()
	withDeadline(t, client1)

	f.Accept(server1)

	writePlayerIdentification(t, client1, "Alice", authKey(testSalt, "Alice"))
	readUntilLevelFinalize(t, client1)

	id, body := readFrame(t, client1)
	require.Equal(t, uint8(classic.IDSpawnPlayer), id)

	spawnID := int8(body[0])
	require.Equal(t, int8(-1), spawnID, "a player always sees their own spawn as self-id -1")
}

func TestAuthBadKeyDisconnects(t *testing.T) {
	f := newTestFactory(t)
	serverConn, client := net.Pipe()
	defer client.Close()
	withDeadline(t, client)

	f.Accept(serverConn)

	writePlayerIdentification(t, client, "Alice", "0000000000000000000000000000000")

	id, body := readFrame(t, client)
	require.Equal(t, uint8(classic.IDDisconnectPlayer), id)

	reason, err := buffer.New(body).ReadString(0)
	require.NoError(t, err)
	require.Equal(t, "Not authenticated with classicube.net!", reason)
}

func TestDuplicateUsernameRejectsSecondClient(t *testing.T) {
	f := newTestFactory(t)

	server1, client1 := net.Pipe()
	defer client1.Close()
	withDeadline(t, client1)
	f.Accept(server1)
	writePlayerIdentification(t, client1, "Alice", authKey(testSalt, "Alice"))
	readUntilLevelFinalize(t, client1)
	_, _ = readFrame(t, client1) // self spawn

	server2, client2 := net.Pipe()
	defer client2.Close()
	withDeadline(t, client2)
	f.Accept(server2)
	writePlayerIdentification(t, client2, "Alice", authKey(testSalt, "Alice"))

	id, body := readFrame(t, client2)
	require.Equal(t, uint8(classic.IDDisconnectPlayer), id)
	reason, err := buffer.New(body).ReadString(0)
	require.NoError(t, err)
	require.Equal(t, "There is already a player logged in with that username!", reason)
}

func TestSetBlockClientBroadcastsToOthersNotSender(t *testing.T) {
	f := newTestFactory(t)

	aServer, aClient := net.Pipe()
	defer aClient.Close()
	withDeadline(t, aClient)
	f.Accept(aServer)
	writePlayerIdentification(t, aClient, "Alice", authKey(testSalt, "Alice"))
	readUntilLevelFinalize(t, aClient)
	_, _ = readFrame(t, aClient) // self spawn

	bServer, bClient := net.Pipe()
	defer bClient.Close()
	withDeadline(t, bClient)
	f.Accept(bServer)
	writePlayerIdentification(t, bClient, "Bob", authKey(testSalt, "Bob"))
	readUntilLevelFinalize(t, bClient)
	_, _ = readFrame(t, bClient) // Alice's spawn, sent to Bob before his own
	_, _ = readSkippingMessages(t, aClient) // Alice sees Bob spawn in

	// Bob destroys a block; Alice should see the update, Bob should not
	// receive his own edit echoed back.
	edit := buffer.New(nil)
	edit.WriteI16(5)
	edit.WriteI16(33)
	edit.WriteI16(5)
	edit.WriteU8(classic.ModeDestroy)
	edit.WriteU8(classic.BlockDirt)
	frame := append([]byte{classic.IDSetBlockClient}, edit.Bytes()...)
	_, err := bClient.Write(frame)
	require.NoError(t, err)

	id, body := readFrame(t, aClient)
	require.Equal(t, uint8(classic.IDSetBlockServer), id)
	pkt := buffer.New(body)
	x, _ := pkt.ReadI16()
	y, _ := pkt.ReadI16()
	z, _ := pkt.ReadI16()
	block, _ := pkt.ReadU8()
	require.Equal(t, int16(5), x)
	require.Equal(t, int16(33), y)
	require.Equal(t, int16(5), z)
	require.Equal(t, classic.BlockAir, block)
}

func TestMovementUpdateUsesRelativeDeltaWhenItFits(t *testing.T) {
	f := newTestFactory(t)

	aServer, aClient := net.Pipe()
	defer aClient.Close()
	withDeadline(t, aClient)
	f.Accept(aServer)
	writePlayerIdentification(t, aClient, "Alice", authKey(testSalt, "Alice"))
	readUntilLevelFinalize(t, aClient)
	_, _ = readFrame(t, aClient) // self spawn

	bServer, bClient := net.Pipe()
	defer bClient.Close()
	withDeadline(t, bClient)
	f.Accept(bServer)
	writePlayerIdentification(t, bClient, "Bob", authKey(testSalt, "Bob"))
	readUntilLevelFinalize(t, bClient)
	_, _ = readFrame(t, bClient) // Alice's spawn, sent to Bob before his own
	_, _ = readSkippingMessages(t, aClient) // Alice sees Bob spawn in

	// Bob moves one block over from his spawn position (33,34,33); the
	// delta is small enough to fit in a signed byte, so Alice should see
	// a PositionAndOrientationUpdate rather than the absolute Static form.
	move := buffer.New(nil)
	move.WriteU8(255) // self
	move.WriteI16(34 * 32)
	move.WriteI16(34 * 32)
	move.WriteI16(33 * 32)
	move.WriteU8(0)
	move.WriteU8(0)
	frame := append([]byte{classic.IDPositionAndOrientation}, move.Bytes()...)
	_, err := bClient.Write(frame)
	require.NoError(t, err)

	id, body := readFrame(t, aClient)
	require.Equal(t, uint8(classic.IDPositionAndOrientationUpdate), id)
	p := buffer.New(body)
	selfID, _ := p.ReadI8()
	dx, _ := p.ReadI8()
	require.NotEqual(t, int8(-1), selfID, "Alice must see Bob's real id, not the self sentinel")
	require.Equal(t, int8(32), dx)
}

func TestGotoCommandTeleportsCallerAndReplaysLevelStream(t *testing.T) {
	f := newTestFactory(t)
	w := world.New("nether")
	f.Worlds().AddWorld(w)

	serverConn, client := net.Pipe()
	defer client.Close()
	withDeadline(t, client)
	f.Accept(serverConn)
	writePlayerIdentification(t, client, "Alice", authKey(testSalt, "Alice"))
	readUntilLevelFinalize(t, client)
	_, _ = readFrame(t, client) // self spawn

	msg := buffer.New(nil)
	msg.WriteU8(0)
	msg.WriteString("/goto nether", 0)
	frame := append([]byte{classic.IDMessage}, msg.Bytes()...)
	_, err := client.Write(frame)
	require.NoError(t, err)

	// removePlayer/addPlayer each announce a global leave/join message
	// before the level-streaming chain replays; readUntilLevelFinalize
	// already drains those.
	readUntilLevelFinalize(t, client)

	id, body := readFrame(t, client)
	require.Equal(t, uint8(classic.IDSpawnPlayer), id)
	require.Equal(t, int8(-1), int8(body[0]))
}

func TestChatCommandSayBroadcastsFormattedMessage(t *testing.T) {
	f := newTestFactory(t)

	serverConn, client := net.Pipe()
	defer client.Close()
	withDeadline(t, client)
	f.Accept(serverConn)
	writePlayerIdentification(t, client, "Admin", authKey(testSalt, "Admin"))
	readUntilLevelFinalize(t, client)
	_, _ = readFrame(t, client) // self spawn

	// The command dispatcher gates /say behind Administrator rank;
	// promote the freshly joined guest so this exercises the success
	// path rather than the permission-denied path.
	w, err := f.Worlds().GetMainWorld()
	require.NoError(t, err)
	for _, e := range w.Entities() {
		e.SetRank(classic.Administrator)
	}

	msg := buffer.New(nil)
	msg.WriteU8(0)
	msg.WriteString("/say hi there", 0)
	frame := append([]byte{classic.IDMessage}, msg.Bytes()...)
	_, err = client.Write(frame)
	require.NoError(t, err)

	id, body := readFrame(t, client)
	require.Equal(t, uint8(classic.IDMessage), id)
	p := buffer.New(body)
	_, _ = p.ReadI8()
	text, err := p.ReadString(0)
	require.NoError(t, err)
	require.Equal(t, classic.ChatColorRed+"[SERVER]"+classic.ChatColorWhite+": hi there", text)
}
