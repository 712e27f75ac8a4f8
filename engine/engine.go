// Package engine executes DQL statements against DynamoDB. It compiles
// every statement before talking to the backend, plans reads as Query or
// Scan, follows pagination, retries throttled requests and waits for table
// changes to settle.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/birdie-ai/golibs/slog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
)

// DynamoDB is the subset of the DynamoDB API the engine calls. Both
// *dynamodb.Client and *fakedynamo.Client implement it.
type DynamoDB interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Option configures an Engine
type Option func(*Engine)

// WithConfig replaces the default configuration, zero fields keep their
// default
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// WithClock sets the source of now() for every statement
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCapabilities decides which constraints are sent to DynamoDB as filter
// expressions, the rest is evaluated after fetching
func WithCapabilities(caps expressions.Capabilities) Option {
	return func(e *Engine) { e.caps = caps }
}

// WithRegisterer registers the engine metrics
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithSleep replaces the function used to sleep between retries
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// Engine runs DQL statements. It is safe for concurrent use; the schema
// cache is shared by all callers.
type Engine struct {
	client     DynamoDB
	parser     *language.Parser
	cfg        Config
	now        func() time.Time
	caps       expressions.Capabilities
	registerer prometheus.Registerer
	metrics    *metrics
	schemas    *schemaCache
	sleep      func(context.Context, time.Duration)
	location   *time.Location
}

// New creates an engine on top of a DynamoDB client
func New(client DynamoDB, opts ...Option) (*Engine, error) {
	e := &Engine{
		client:  client,
		parser:  language.New(),
		cfg:     DefaultConfig(),
		now:     time.Now,
		caps:    expressions.DefaultCapabilities(),
		schemas: newSchemaCache(),
		sleep:   defaultSleep,
	}

	for _, opt := range opts {
		opt(e)
	}

	loc, err := e.cfg.location()
	if err != nil {
		return nil, err
	}

	e.location = loc
	e.metrics = newMetrics(e.registerer)

	return e, nil
}

// Result is the outcome of the last statement of an Execute call
type Result struct {
	Action language.Action
	Table  string
	// Rows holds the items of SELECT and SCAN and the RETURNS values of
	// UPDATE and DELETE
	Rows *Rows
	// Count is the COUNT result or the number of written items
	Count int64
	// Schema is the DUMP SCHEMA output
	Schema string
	// Plan lists the requests an EXPLAIN statement would issue
	Plan []string
	// File is the file written by SAVE or read by LOAD
	File string
	// Partial is set when the text ends with a statement without ';'
	Partial bool
}

// command is a compiled statement
type command interface {
	run(ctx context.Context, e *Engine) (*Result, error)
	explain(ctx context.Context, e *Engine) ([]string, error)
}

// Execute runs every statement of text and returns the result of the last
// one. All statements are compiled before the first one runs, so parse and
// validation errors never leave partial changes behind.
func (e *Engine) Execute(ctx context.Context, text string) (*Result, error) {
	program, err := e.parser.Parse(text)
	if err != nil {
		return nil, err
	}

	res, err := e.executeProgram(ctx, program)
	if err != nil {
		return nil, err
	}

	res.Partial = program.Partial

	return res, nil
}

func (e *Engine) executeProgram(ctx context.Context, program *language.Program) (*Result, error) {
	if len(program.Statements) == 0 {
		return &Result{}, nil
	}

	commands := make([]command, 0, len(program.Statements))

	for _, stmt := range program.Statements {
		fc := expressions.NewFoldContext(e.now(), e.location)

		cmd, err := e.compile(stmt, fc)
		if err != nil {
			return nil, err
		}

		commands = append(commands, cmd)
	}

	var res *Result

	for i, cmd := range commands {
		stmt := program.Statements[i]
		log := slog.FromCtx(ctx).With("statement_id", uuid.NewString(), "action", string(stmt.Action()))
		sctx := slog.NewContext(ctx, log)

		if res != nil && res.Rows != nil {
			res.Rows.Close()
		}

		log.Debug("dql: executing statement", "statement", stmt.String())

		var err error

		res, err = cmd.run(sctx, e)
		if err != nil {
			return nil, err
		}

		res.Action = stmt.Action()
	}

	return res, nil
}

func (e *Engine) compile(stmt language.Statement, fc *expressions.FoldContext) (command, error) {
	switch s := stmt.(type) {
	case *language.SelectStatement:
		return compileSelect(s, fc)
	case *language.ScanStatement:
		return compileScan(s, fc)
	case *language.CountStatement:
		return compileCount(s, fc)
	case *language.CreateStatement:
		return compileCreate(s)
	case *language.InsertStatement:
		return compileInsert(s, fc)
	case *language.UpdateStatement:
		return e.compileUpdate(s, fc)
	case *language.DeleteStatement:
		return e.compileDelete(s, fc)
	case *language.DropStatement:
		return &dropCommand{stmt: s}, nil
	case *language.AlterStatement:
		return compileAlter(s)
	case *language.DumpStatement:
		return &dumpCommand{tables: s.Tables}, nil
	case *language.LoadStatement:
		return compileLoad(s, fc)
	case *language.ExplainStatement:
		inner, err := e.compile(s.Statement, fc)
		if err != nil {
			return nil, err
		}

		return &explainCommand{inner: inner}, nil
	}

	return nil, fmt.Errorf("unsupported statement %T", stmt)
}

// where builds the constraint of an optional WHERE clause
func where(exp language.Expression, fc *expressions.FoldContext) (expressions.Constraint, error) {
	if exp == nil {
		return nil, nil
	}

	return expressions.NewConstraint(exp, fc)
}
