package exports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	accountAddressColumnName = "Account address"

	errMessageMissingHeader        = "following export did not contain a header row"
	errMessageMissingAddressColumn = "following export header did not contain an account address column"
)

var (
	// ErrMissingAddressColumn indicates a following export whose header lacks
	// the account address column.
	ErrMissingAddressColumn = errors.New(errMessageMissingAddressColumn)

	errMissingHeader = errors.New(errMessageMissingHeader)
)

// ReadMastodonFollowing parses a Mastodon following_accounts.csv export and
// returns the account addresses in file order. Rows without a usable address
// are skipped; additional columns such as Show boosts are ignored.
func ReadMastodonFollowing(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open following export: %w", err)
	}
	defer file.Close()

	return parseMastodonFollowing(file)
}

func parseMastodonFollowing(reader io.Reader) ([]string, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	headerRow, err := csvReader.Read()
	if err == io.EOF {
		return nil, errMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read following export header: %w", err)
	}

	addressColumnIndex := -1
	for columnIndex, columnName := range headerRow {
		if strings.EqualFold(strings.TrimSpace(columnName), accountAddressColumnName) {
			addressColumnIndex = columnIndex
			break
		}
	}
	if addressColumnIndex < 0 {
		return nil, ErrMissingAddressColumn
	}

	addresses := make([]string, 0)
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if addressColumnIndex >= len(row) {
			continue
		}
		address := strings.TrimSpace(row[addressColumnIndex])
		if address == "" {
			continue
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}
