package ledger

// TokenID maps token strings to numeric IDs. Token identifiers are validated
// once at the ingestion boundary; everything past the parser works with the
// closed TokenID set.
type TokenID uint16

var (
	tokenToID = map[string]TokenID{
		"STX":  1,
		"SBTC": 2,
	}
	idToToken = map[TokenID]string{
		1: "STX",
		2: "SBTC",
	}
)

func GetTokenID(token string) (TokenID, bool) {
	id, ok := tokenToID[token]
	return id, ok
}

func GetTokenName(id TokenID) (string, bool) {
	name, ok := idToToken[id]
	return name, ok
}

// Tokens returns all known token IDs in ascending order.
func Tokens() []TokenID {
	return []TokenID{1, 2}
}
