// nolint
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
)

type ParserData struct {
	parser *kong.Kong
	cli    *CLI
}

type Globals struct {
	Config     string     `help:"Location of client config files" env:"GOACCESS_HOME," type:"path"`
	ConfigFile string     `kong:"-"`
	Data       ConfigData `kong:"-"`
}

type CLI struct {
	Globals
	Add      AddCmd      `cmd:"" help:"Define a new server to be managed"`
	Select   SelectCmd   `cmd:"" help:"Select a defined server to perform operations against"`
	Show     ShowCmd     `cmd:"" help:"Show locally configured information"`
	Register RegisterCmd `cmd:"" help:"Register a new user account on the selected server"`
	Login    LoginCmd    `cmd:"" help:"Log in to the selected server"`
	Create   CreateCmd   `cmd:"" help:"Create a client on the selected server"`
	Get      GetCmd      `cmd:"" help:"Get information from the selected server"`
	Exit     ExitCmd     `cmd:"" help:"Exit the shell"`
	Help     HelpCmd     `cmd:"" help:"Show help on a command"`
}

func initParser(cli *CLI) (*ParserData, error) {
	if cli == nil {
		cli = &CLI{}
	}

	cli.Data = ConfigData{
		Servers: map[string]AccessServer{},
	}
	parser, err := kong.New(cli,
		kong.Name("goAccess"),
		kong.Description("i2goAccess administration tool"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:      true,
			Summary:      true,
			Tree:         true,
			NoAppSummary: false,
		}),
		kong.UsageOnError(),
		kong.Writers(os.Stdout, os.Stdout),

		kong.NoDefaultHelp(),
		kong.Bind(&cli.Globals),
		kong.Exit(func(int) {}),
	)
	td := ParserData{
		parser: parser,
		cli:    cli,
	}
	fmt.Println("Loading existing configuration...")
	_ = cli.Data.checkConfigPath(&cli.Globals)
	_ = cli.Data.Load(&cli.Globals)

	return &td, err
}

func main() {

	console, err := readline.NewEx(&readline.Config{
		Prompt:                 "goAccess> ",
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		panic(err)
	}
	defer func(console *readline.Instance) {
		_ = console.Close()
	}(console)

	td, err := initParser(&CLI{})
	if err != nil {
		fmt.Println(err.Error())
	}
	oneCommand := false
	var initialArgs []string
	if len(os.Args) > 1 {
		initialArgs = os.Args[1:]
		oneCommand = true
	}

	for true {
		var args []string
		if len(initialArgs) > 0 {
			args = initialArgs
			fullCommand := strings.Join(initialArgs, " ")
			initialArgs = []string{}
			_ = console.SaveHistory(fullCommand)
		} else {
			line, err := console.Readline()
			if err != nil {
				panic(err)
			}
			_ = console.SaveHistory(line)
			args = strings.Split(line, " ")
		}

		var ctx *kong.Context
		ctx, err = td.parser.Parse(args)

		if err != nil {
			// Put out the help text response
			td.parser.Errorf("%s", err.Error())
			if err, ok := err.(*kong.ParseError); ok {
				log.Println(err.Error())
				_ = err.Context.PrintUsage(false)
			}
			continue
		}

		err = ctx.Run(&td.cli.Globals)

		if err != nil {
			td.parser.Errorf("%s", err)
			continue
		}
		if oneCommand {
			return
		}
	}

}
