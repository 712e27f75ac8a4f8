package engine

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// File formats of SAVE and LOAD, picked by the file extension. A trailing
// .gz compresses the file.
const (
	formatJSON = "json"
	formatCSV  = "csv"
)

type fileFormat struct {
	name string
	gzip bool
}

func formatOf(file string) (fileFormat, error) {
	base := file

	f := fileFormat{gzip: strings.HasSuffix(base, ".gz")}
	if f.gzip {
		base = strings.TrimSuffix(base, ".gz")
	}

	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".jsonl":
		f.name = formatJSON
	case ".csv":
		f.name = formatCSV
	default:
		return f, types.Validationf("unsupported file format %q: use .json or .csv, optionally followed by .gz", file)
	}

	return f, nil
}

func (f fileFormat) String() string {
	if f.gzip {
		return f.name + ".gz"
	}

	return f.name
}

// writeRecords writes records to file, replacing its content
func (f fileFormat) writeRecords(file string, records []types.Record) (err error) {
	out, err := os.Create(file)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, out.Close())
	}()

	buf := bufio.NewWriter(out)

	var w io.Writer = buf

	var gz *gzip.Writer
	if f.gzip {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	if f.name == formatCSV {
		err = writeCSV(w, records)
	} else {
		err = writeJSON(w, records)
	}

	if err != nil {
		return err
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}

	return buf.Flush()
}

// readRecords reads back a file written by writeRecords. CSV cells are DQL
// literals and fold with fc.
func (f fileFormat) readRecords(file string, fc *expressions.FoldContext) ([]types.Record, error) {
	in, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var r io.Reader = bufio.NewReader(in)

	if f.gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()

		r = gz
	}

	if f.name == formatCSV {
		return readCSV(r, fc)
	}

	return readJSON(r)
}

// writeJSON writes one item per line in the DynamoDB JSON encoding, the
// format of DynamoDB table exports
func writeJSON(w io.Writer, records []types.Record) error {
	enc := json.NewEncoder(w)

	for _, record := range records {
		item := make(map[string]any, len(record))
		for name, v := range record {
			item[name] = wireValue(v)
		}

		if err := enc.Encode(item); err != nil {
			return err
		}
	}

	return nil
}

func readJSON(r io.Reader) ([]types.Record, error) {
	dec := json.NewDecoder(r)

	var out []types.Record

	for line := 1; ; line++ {
		var item map[string]json.RawMessage

		err := dec.Decode(&item)
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return nil, fmt.Errorf("item %d: %w", line, err)
		}

		record := make(types.Record, len(item))

		for name, raw := range item {
			v, err := fromWire(raw)
			if err != nil {
				return nil, fmt.Errorf("item %d attribute %s: %w", line, name, err)
			}

			record[name] = v
		}

		out = append(out, record)
	}
}

func wireValue(v types.Value) map[string]any {
	switch val := v.(type) {
	case *types.Number:
		return map[string]any{"N": val.Text}
	case *types.String:
		return map[string]any{"S": val.Value}
	case *types.Binary:
		return map[string]any{"B": val.Value}
	case *types.Boolean:
		return map[string]any{"BOOL": val.Value}
	case *types.List:
		elems := make([]any, 0, len(val.Value))
		for _, elem := range val.Value {
			elems = append(elems, wireValue(elem))
		}

		return map[string]any{"L": elems}
	case *types.Map:
		fields := make(map[string]any, len(val.Value))
		for k, elem := range val.Value {
			fields[k] = wireValue(elem)
		}

		return map[string]any{"M": fields}
	case *types.StringSet:
		return map[string]any{"SS": val.Value}
	case *types.NumberSet:
		return map[string]any{"NS": val.Value}
	case *types.BinarySet:
		return map[string]any{"BS": val.Value}
	}

	return map[string]any{"NULL": true}
}

func fromWire(raw json.RawMessage) (types.Value, error) {
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, err
	}

	if len(typed) != 1 {
		return nil, fmt.Errorf("expected a single type key, got %d", len(typed))
	}

	for code, body := range typed {
		return decodeWire(code, body)
	}

	return nil, nil
}

func decodeWire(code string, body json.RawMessage) (types.Value, error) {
	switch code {
	case "N":
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return nil, err
		}

		n := &types.Number{Text: text}
		if _, ok := n.Rat(); !ok {
			return nil, fmt.Errorf("invalid number %q", text)
		}

		return n, nil
	case "S":
		v := &types.String{}
		return v, json.Unmarshal(body, &v.Value)
	case "B":
		v := &types.Binary{}
		return v, json.Unmarshal(body, &v.Value)
	case "BOOL":
		v := &types.Boolean{}
		return v, json.Unmarshal(body, &v.Value)
	case "NULL":
		return &types.Null{}, nil
	case "L":
		var elems []json.RawMessage
		if err := json.Unmarshal(body, &elems); err != nil {
			return nil, err
		}

		list := &types.List{Value: make([]types.Value, 0, len(elems))}

		for _, elem := range elems {
			v, err := fromWire(elem)
			if err != nil {
				return nil, err
			}

			list.Value = append(list.Value, v)
		}

		return list, nil
	case "M":
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}

		m := &types.Map{Value: make(map[string]types.Value, len(fields))}

		for k, field := range fields {
			v, err := fromWire(field)
			if err != nil {
				return nil, err
			}

			m.Value[k] = v
		}

		return m, nil
	case "SS":
		var values []string
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, err
		}

		return types.NewStringSet(values...), nil
	case "NS":
		var values []string
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, err
		}

		return types.NewNumberSet(values...), nil
	case "BS":
		var values [][]byte
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, err
		}

		return types.NewBinarySet(values...), nil
	}

	return nil, fmt.Errorf("unknown attribute type %q", code)
}

// writeCSV writes a header with the sorted union of the attribute names and
// one row per item. Cells hold DQL literals, a missing attribute is an empty
// cell.
func writeCSV(w io.Writer, records []types.Record) error {
	var header []string

	seen := map[string]bool{}

	for _, record := range records {
		for name := range record {
			if !seen[name] {
				seen[name] = true
				header = append(header, name)
			}
		}
	}

	slices.Sort(header)

	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))

	for _, record := range records {
		for i, name := range header {
			row[i] = ""
			if v, ok := record[name]; ok {
				row[i] = v.Inspect()
			}
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

func readCSV(r io.Reader, fc *expressions.FoldContext) ([]types.Record, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var out []types.Record

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return nil, err
		}

		record := types.Record{}

		for i, cell := range row {
			if cell == "" {
				continue
			}

			exp, err := language.ParseExpression(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}

			v, err := fc.Fold(exp)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}

			record[header[i]] = v
		}

		out = append(out, record)
	}
}
