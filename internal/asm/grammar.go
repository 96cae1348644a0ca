// Package asm assembles the textual bytecode format (.dasm) into program
// prototypes.
//
// A source file is line oriented:
//
//	; comment
//	program blink
//	global count
//	global table[4] = 1 2 3 4
//	extern samples[64]
//	string greeting "count=%d\n"
//
//	proc main void
//	local i
//	loop:
//	    LG count
//	    LN 1
//	    PLUS
//	    SG count
//	    sys delay 1
//	    JUMP loop
//	end
//
// A proc line emits the procedure's ENTRY instruction and defines a label
// with the procedure's name. RTRN without an operand returns from the
// enclosing procedure. "sys NAME NARGS" expands to the three instructions of
// a system call whose arguments are already on the stack.
package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

type file struct {
	Stmts []*stmt `( @@? EOL )*`
}

type stmt struct {
	Pos lexer.Position

	Program *string   `  "program" @Ident`
	Entry   *string   `| "entry" @Ident`
	Proc    *procDecl `| @@`
	End     bool      `| @"end"`
	Var     *varDecl  `| @@`
	Str     *strDecl  `| @@`
	Line    *int      `| "line" @Int`
	Label   *string   `| @Ident ":"`
	Instr   *instr    `| @@`
}

type procDecl struct {
	Name string `"proc" @Ident`
	Type string `@( "int" | "float" | "void" )?`
}

type varDecl struct {
	Kind string     `@( "global" | "extern" | "arg" | "local" )`
	Name string     `@Ident`
	Dims []string   `( "[" @Int ( "," @Int )* "]" )?`
	Type string     `( ":" @( "int" | "float" ) )?`
	Init []*operand `( "=" @@+ )?`
}

type strDecl struct {
	Name  string `"string" @Ident`
	Value string `@String`
}

type instr struct {
	Op   string     `@Ident`
	Args []*operand `@@*`
}

type operand struct {
	Pos lexer.Position

	Float *float64 `  @Float`
	Int   *string  `| @Int`
	Name  *string  `| @Ident`
}

var dasmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Float", Pattern: `-?[0-9]+\.[0-9]*`},
	{Name: "Int", Pattern: `-?(0[xX][0-9a-fA-F]+|[0-9]+)`},
	{Name: "Ident", Pattern: `[A-Za-z_.$][A-Za-z0-9_.$]*`},
	{Name: "Punct", Pattern: `[\[\]:,=]`},
	{Name: "EOL", Pattern: `\n`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
})

var parser = participle.MustBuild[file](
	participle.Lexer(dasmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)
