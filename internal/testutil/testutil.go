// Package testutil provides shared builders for the small source programs
// and cheats documents several packages' tests compile: hand-assembled,
// consistent input fixtures so each test reads as the scenario it
// exercises rather than as struct-literal noise.
package testutil

import (
	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/config"
)

// Num builds a number literal node.
func Num(v float64) ast.Node {
	return ast.Node{Tag: ast.TagNumber, NumberValue: v}
}

// Str builds a string literal node.
func Str(s string) ast.Node {
	return ast.Node{Tag: ast.TagString, StringValue: s}
}

// List builds a list literal node.
func List(elems ...ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagList, Args: elems}
}

// Cmd builds a command application with positional arguments only.
func Cmd(command string, args ...ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagCommandApp, Command: command, Args: args}
}

// CmdBlock builds a block-taking command (ask, repeat, create-turtles, if).
func CmdBlock(command string, args []ast.Node, body ...ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagCommandApp, Command: command, Args: args, Body: body}
}

// Set builds a `set <name> <value>` command.
func Set(name string, value ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagCommandApp, Command: "set", Name: name, Args: []ast.Node{value}}
}

// Let builds a `let <name> <value>` binding.
func Let(name string, value ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagLetBinding, Name: name, Args: []ast.Node{value}}
}

// Rep builds a reporter call with positional arguments only.
func Rep(command string, args ...ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagReporterCall, Command: command, Args: args}
}

// ProcCall builds a reporter-procedure call.
func ProcCall(name string, args ...ast.Node) ast.Node {
	return ast.Node{Tag: ast.TagReporterProcCall, Command: name, Args: args}
}

// ArgRef builds a reference to an enclosing procedure's argument.
func ArgRef(name string) ast.Node {
	return ast.Node{Tag: ast.TagProcedureArgRef, Name: name}
}

// ObserverProc builds an observer-class command procedure.
func ObserverProc(name string, stmts ...ast.Node) ast.Procedure {
	return ast.Procedure{
		Name:       name,
		AgentClass: ast.AgentClass{Observer: true},
		ReturnType: ast.ReturnUnit,
		Statements: stmts,
	}
}

// TurtleProc builds a turtle-class command procedure.
func TurtleProc(name string, stmts ...ast.Node) ast.Procedure {
	return ast.Procedure{
		Name:       name,
		AgentClass: ast.AgentClass{Turtle: true},
		ReturnType: ast.ReturnUnit,
		Statements: stmts,
	}
}

// ReporterProc builds an observer-class reporter procedure (wildcard
// return, refined by type inference).
func ReporterProc(name string, stmts ...ast.Node) ast.Procedure {
	return ast.Procedure{
		Name:       name,
		AgentClass: ast.AgentClass{Observer: true},
		ReturnType: ast.ReturnWildcard,
		Statements: stmts,
	}
}

// WithArgs returns a copy of proc with the given argument names declared.
func WithArgs(proc ast.Procedure, names ...string) ast.Procedure {
	proc.ArgNames = names
	return proc
}

// Program assembles a full AST document with no variable declarations.
func Program(procs ...ast.Procedure) *ast.Ast {
	return &ast.Ast{Procedures: procs}
}

// ProgramWithVars assembles a full AST document with the given global,
// turtle, and patch variable declarations.
func ProgramWithVars(globals, turtleVars, patchVars []string, procs ...ast.Procedure) *ast.Ast {
	return &ast.Ast{
		GlobalNames: ast.GlobalNames{
			GlobalVars: globals,
			TurtleVars: turtleVars,
			PatchVars:  patchVars,
		},
		Procedures: procs,
	}
}

// EmptyCheats returns a cheats document that declares nothing: default
// schemas, no type annotations.
func EmptyCheats() *config.Cheats {
	return &config.Cheats{
		GlobalsSchema: config.SchemaSpec{Type: config.SchemaDefault},
		PatchSchema:   config.SchemaSpec{Type: config.SchemaDefault},
		TurtleSchema:  config.SchemaSpec{Type: config.SchemaDefault},
	}
}
