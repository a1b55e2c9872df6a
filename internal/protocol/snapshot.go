package protocol

// Board dimensions, shared by both clients.
const (
	BoardWidth  = 10
	BoardHeight = 20
)

// Snapshot is one player's complete board state at a point in time. It is
// self-contained: no diffing, each snapshot fully replaces the receiver's
// mirror of that player. Board cells hold the piece letter ("I", "O", "T",
// "S", "Z", "J", "L") or "" for empty.
type Snapshot struct {
	Board        [][]string `json:"board"`
	Score        int        `json:"score"`
	Combo        int        `json:"combo"`
	CurrentPiece string     `json:"current_piece"`
	NextPieces   []string   `json:"next_pieces"`
	HoldPiece    string     `json:"hold_piece"`
	PiecePos     [2]int     `json:"piece_pos"`
}

// EmptyBoard returns a zero-valued BoardHeight x BoardWidth grid.
func EmptyBoard() [][]string {
	board := make([][]string, BoardHeight)
	for y := range board {
		board[y] = make([]string, BoardWidth)
	}
	return board
}

// Clone returns a deep copy so a mirror swap never aliases the sender's grid.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Board != nil {
		out.Board = make([][]string, len(s.Board))
		for y, row := range s.Board {
			out.Board[y] = append([]string(nil), row...)
		}
	}
	out.NextPieces = append([]string(nil), s.NextPieces...)
	return out
}
