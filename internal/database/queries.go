package database

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"

	accountColumns = "id, username, email, is_online, last_seen, created_at, updated_at"
	roomColumns    = "r.id, r.name, r.kind, r.creator_id, r.seq_id, r.created_at, r.updated_at, " +
		"COALESCE(d.user_lo, 0), COALESCE(d.user_hi, 0)"
	messageColumns = "m.id, m.seq_id, m.room_id, m.user_id, a.username, m.content, m.type, " +
		"m.is_delivered, m.delivered_at, m.is_read, m.read_at, m.created_at"

	insertMemberQuery = "INSERT INTO room_members (room_id, account_id, joined_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT DO NOTHING"
)

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func scanAccount(row scanner) (User, error) {
	var (
		u        User
		lastSeen sql.NullTime
	)
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.IsOnline,
		&lastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	u.LastSeen = lastSeen.Time

	return u, err
}

func scanRoom(row scanner) (Room, error) {
	var r Room
	err := row.Scan(
		&r.Id,
		&r.Name,
		&r.Kind,
		&r.CreatorId,
		&r.SeqId,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.PairLo,
		&r.PairHi,
	)

	return r, err
}

func scanMessage(row scanner) (Message, error) {
	var (
		msg         Message
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)
	err := row.Scan(
		&msg.Id,
		&msg.SeqId,
		&msg.RoomId,
		&msg.UserId,
		&msg.Username,
		&msg.Content,
		&msg.Type,
		&msg.IsDelivered,
		&deliveredAt,
		&msg.IsRead,
		&readAt,
		&msg.CreatedAt,
	)
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}

	return msg, err
}

func (db *PgGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	)

	u, err := scanAccount(row)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}

	return u, err
}

func (db *PgGoChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	return scanAccount(row)
}

func (db *PgGoChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT "+accountColumns+", password_hash FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var (
		u        User
		lastSeen sql.NullTime
	)
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.IsOnline,
		&lastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.PasswordHash,
	)
	u.LastSeen = lastSeen.Time

	return u, err
}

func (db *PgGoChatRepository) queryAccounts(query string, args ...any) ([]User, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgGoChatRepository) ListAccounts(excludeId int) ([]User, error) {
	return db.queryAccounts(
		"SELECT "+accountColumns+" FROM accounts WHERE id <> $1 ORDER BY username",
		excludeId,
	)
}

func (db *PgGoChatRepository) SearchAccounts(query string, excludeId int) ([]User, error) {
	return db.queryAccounts(
		"SELECT "+accountColumns+" FROM accounts "+
			"WHERE id <> $2 AND (username ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%') "+
			"ORDER BY username",
		query,
		excludeId,
	)
}

func (db *PgGoChatRepository) UpdatePresence(accountId int, online bool, lastSeen time.Time) error {
	res, err := db.conn.Exec(
		"UPDATE accounts SET is_online = $2, last_seen = $3, updated_at = $4 WHERE id = $1",
		accountId,
		online,
		lastSeen,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var roomId int
	err = tx.QueryRow(
		"INSERT INTO rooms (name, kind, creator_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id",
		params.Name,
		params.Kind,
		params.CreatorId,
		now,
	).Scan(&roomId)
	if err != nil {
		return Room{}, err
	}

	for _, memberId := range params.MemberIds {
		if _, err = tx.Exec(insertMemberQuery, roomId, memberId, now); err != nil {
			return Room{}, err
		}
	}

	if params.Kind == "DIRECT" && len(params.MemberIds) == 2 {
		lo, hi := OrderedPair(params.MemberIds[0], params.MemberIds[1])
		_, err = tx.Exec(
			"INSERT INTO direct_rooms (user_lo, user_hi, room_id) VALUES ($1, $2, $3)",
			lo,
			hi,
			roomId,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return Room{}, ErrDuplicate
			}
			return Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return db.GetRoomById(roomId)
}

func (db *PgGoChatRepository) GetRoomById(roomId int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms r "+
			"LEFT JOIN direct_rooms d ON d.room_id = r.id WHERE r.id = $1",
		roomId,
	)

	room, err := scanRoom(row)
	if err != nil {
		return Room{}, err
	}

	members, err := db.membersForRooms([]int{room.Id})
	if err != nil {
		return Room{}, err
	}
	room.Members = members[room.Id]

	return room, nil
}

func (db *PgGoChatRepository) FindDirectRoom(accountA, accountB int) (Room, error) {
	lo, hi := OrderedPair(accountA, accountB)

	var roomId int
	err := db.conn.QueryRow(
		"SELECT room_id FROM direct_rooms WHERE user_lo = $1 AND user_hi = $2",
		lo,
		hi,
	).Scan(&roomId)
	if err != nil {
		return Room{}, err
	}

	return db.GetRoomById(roomId)
}

func (db *PgGoChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT "+roomColumns+" FROM rooms r "+
			"JOIN room_members rm ON rm.room_id = r.id "+
			"LEFT JOIN direct_rooms d ON d.room_id = r.id "+
			"WHERE rm.account_id = $1 ORDER BY r.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(rooms) == 0 {
		return rooms, nil
	}

	ids := make([]int, len(rooms))
	for i, r := range rooms {
		ids[i] = r.Id
	}

	members, err := db.membersForRooms(ids)
	if err != nil {
		return nil, err
	}

	for i := range rooms {
		rooms[i].Members = members[rooms[i].Id]
	}

	return rooms, nil
}

func (db *PgGoChatRepository) membersForRooms(roomIds []int) (map[int][]User, error) {
	ids := make([]int64, len(roomIds))
	for i, id := range roomIds {
		ids[i] = int64(id)
	}

	rows, err := db.conn.Query(
		"SELECT rm.room_id, a.id, a.username, a.email, a.is_online, a.last_seen, a.created_at, a.updated_at "+
			"FROM room_members rm JOIN accounts a ON a.id = rm.account_id "+
			"WHERE rm.room_id = ANY($1) ORDER BY rm.joined_at, a.id",
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch members: %w", err)
	}
	defer rows.Close()

	members := make(map[int][]User, len(roomIds))
	for rows.Next() {
		var (
			roomId   int
			u        User
			lastSeen sql.NullTime
		)
		if err := rows.Scan(
			&roomId,
			&u.Id,
			&u.Username,
			&u.EmailAddress,
			&u.IsOnline,
			&lastSeen,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		u.LastSeen = lastSeen.Time
		members[roomId] = append(members[roomId], u)
	}

	return members, rows.Err()
}

func (db *PgGoChatRepository) AddMember(roomId, accountId int) error {
	_, err := db.conn.Exec(insertMemberQuery, roomId, accountId, time.Now().UTC())

	return err
}

// RemoveMember deletes the membership and returns the number of members left.
func (db *PgGoChatRepository) RemoveMember(roomId, accountId int) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"DELETE FROM room_members WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)
	if err != nil {
		return 0, err
	}

	var remaining int
	err = tx.QueryRow("SELECT COUNT(*) FROM room_members WHERE room_id = $1", roomId).Scan(&remaining)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return remaining, nil
}

func (db *PgGoChatRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM room_members WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM direct_rooms WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// CreateMessage bumps the room's sequence and inserts the message with it.
func (db *PgGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seqId int
	err = tx.QueryRow(
		"UPDATE rooms SET seq_id = seq_id + 1, updated_at = $2 WHERE id = $1 RETURNING seq_id",
		params.RoomId,
		params.CreatedAt,
	).Scan(&seqId)
	if err != nil {
		return Message{}, err
	}

	var id int
	err = tx.QueryRow(
		"INSERT INTO messages (seq_id, room_id, user_id, content, type, is_delivered, delivered_at, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6) RETURNING id",
		seqId,
		params.RoomId,
		params.UserId,
		params.Content,
		params.Type,
		params.CreatedAt,
	).Scan(&id)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return db.GetMessageById(id)
}

func (db *PgGoChatRepository) GetMessageById(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m JOIN accounts a ON a.id = m.user_id WHERE m.id = $1",
		id,
	)

	return scanMessage(row)
}

// GetMessages returns up to limit messages with after < seq_id < before,
// oldest first. Zero bounds are ignored.
func (db *PgGoChatRepository) GetMessages(roomId, after, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before
	}

	if after > 0 {
		lower = after
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 AND m.seq_id > $2 AND m.seq_id < $3 ORDER BY m.seq_id DESC LIMIT $4",
		roomId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

func (db *PgGoChatRepository) GetLastMessage(roomId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 ORDER BY m.seq_id DESC LIMIT 1",
		roomId,
	)

	return scanMessage(row)
}

// MarkMessageRead flips the read flag if it is still unset and reports
// whether it did.
func (db *PgGoChatRepository) MarkMessageRead(id int, readAt time.Time) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET is_read = TRUE, read_at = $2 WHERE id = $1 AND NOT is_read",
		id,
		readAt,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (db *PgGoChatRepository) CountUnread(roomId, accountId int) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE room_id = $1 AND user_id <> $2 AND NOT is_read",
		roomId,
		accountId,
	).Scan(&count)

	return count, err
}
