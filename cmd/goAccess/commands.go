// nolint
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/i2-open/i2goAccess/internal/model"

	"github.com/alecthomas/kong"
)

func postJson(server *AccessServer, path string, token string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, server.Host+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := http.Client{}
	defer client.CloseIdleConnections()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, string(respBytes))
	}
	return respBytes, nil
}

type AddServerCmd struct {
	Alias string `arg:"" help:"A unique name to identify the server"`
	Host  string `arg:"" help:"The server base URL (e.g. http://localhost:8080)"`
}

func (a *AddServerCmd) Run(g *Globals) error {
	_, exists := g.Data.Servers[a.Alias]
	if exists {
		return errors.New("server alias '" + a.Alias + "' already defined")
	}
	server := AccessServer{
		Alias:   a.Alias,
		Host:    a.Host,
		Clients: map[string]ClientCred{},
	}
	g.Data.Servers[a.Alias] = server
	g.Data.Selected = a.Alias
	fmt.Printf("Server %s added and selected.\n", a.Alias)
	return g.Data.Save(g)
}

type AddCmd struct {
	Server AddServerCmd `cmd:"" help:"Add a server to be administered"`
}

type SelectCmd struct {
	Alias string `arg:"" help:"The alias of the server to select"`
}

func (s *SelectCmd) Run(g *Globals) error {
	_, exists := g.Data.Servers[s.Alias]
	if !exists {
		return errors.New("server alias '" + s.Alias + "' not defined")
	}
	g.Data.Selected = s.Alias
	fmt.Printf("Server %s selected.\n", s.Alias)
	return g.Data.Save(g)
}

type ShowServerCmd struct {
	Alias string `arg:"" optional:"" help:"Specify a server alias, * for all servers, or blank for the selected server"`
}

func (s *ShowServerCmd) Run(g *Globals) error {
	if len(g.Data.Servers) == 0 {
		fmt.Println("No servers defined.")
		return nil
	}
	if s.Alias == "*" {
		output, _ := json.MarshalIndent(g.Data.Servers, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	server, err := g.Data.GetServer(s.Alias)
	if err != nil {
		return err
	}
	output, _ := json.MarshalIndent(server, "", "  ")
	fmt.Println(string(output))
	return nil
}

type ShowCmd struct {
	Server ShowServerCmd `cmd:"" help:"Show locally defined servers"`
}

type RegisterCmd struct {
	Username string `arg:"" help:"The username for the new account"`
	Email    string `required:"" help:"The account email address"`
	Password string `required:"" help:"The account password"`
	Phone    string `optional:"" help:"The account phone number"`
}

func (r *RegisterCmd) Run(g *Globals) error {
	server, err := g.Data.GetServer("")
	if err != nil {
		return err
	}
	body := map[string]interface{}{
		"username":    r.Username,
		"password":    r.Password,
		"email":       r.Email,
		"phoneNumber": r.Phone,
	}
	respBytes, err := postJson(server, "/register", "", body)
	if err != nil {
		return err
	}
	fmt.Println(string(respBytes))
	return nil
}

type LoginCmd struct {
	Username string `arg:"" help:"The account username"`
	Password string `required:"" help:"The account password"`
}

func (l *LoginCmd) Run(g *Globals) error {
	server, err := g.Data.GetServer("")
	if err != nil {
		return err
	}
	body := map[string]string{"username": l.Username, "password": l.Password}
	respBytes, err := postJson(server, "/login", "", body)
	if err != nil {
		return err
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return err
	}
	server.SessionToken = result.Token
	g.Data.Servers[server.Alias] = *server
	fmt.Printf("Logged in to %s.\n", server.Alias)
	return g.Data.Save(g)
}

type CreateClientCmd struct {
	Alias      string `arg:"" help:"A local alias for the new client"`
	Redirect   string `required:"" help:"The client redirect URL"`
	FirstParty bool   `default:"false" help:"Mark the client as first party"`
}

func (c *CreateClientCmd) Run(g *Globals) error {
	server, err := g.Data.GetServer("")
	if err != nil {
		return err
	}
	if server.SessionToken == "" {
		return errors.New("not logged in, use 'login'")
	}
	body := map[string]interface{}{
		"redirectUrl":  c.Redirect,
		"isFirstParty": c.FirstParty,
	}
	respBytes, err := postJson(server, "/clients", server.SessionToken, body)
	if err != nil {
		return err
	}
	var created model.ClientCreated
	if err := json.Unmarshal(respBytes, &created); err != nil {
		return err
	}
	if server.Clients == nil {
		server.Clients = map[string]ClientCred{}
	}
	server.Clients[c.Alias] = ClientCred{
		ClientId:    created.ClientId,
		Secret:      created.Secret,
		RedirectUrl: c.Redirect,
	}
	g.Data.Servers[server.Alias] = *server
	fmt.Printf("Client %s registered as %s.\n", created.ClientId, c.Alias)
	return g.Data.Save(g)
}

type CreateCmd struct {
	Client CreateClientCmd `cmd:"" help:"Register a new client with the selected server"`
}

type GetSubjectCmd struct {
	Id string `arg:"" help:"The subject identifier to retrieve"`
}

func (s *GetSubjectCmd) Run(g *Globals) error {
	server, err := g.Data.GetServer("")
	if err != nil {
		return err
	}
	if server.SessionToken == "" {
		return errors.New("not logged in, use 'login'")
	}
	req, err := http.NewRequest(http.MethodGet, server.Host+"/subjects/"+s.Id, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+server.SessionToken)
	client := http.Client{}
	defer client.CloseIdleConnections()
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, string(respBytes))
	}
	fmt.Println(string(respBytes))
	return nil
}

type GetCmd struct {
	Subject GetSubjectCmd `cmd:"" help:"Retrieve a subject record"`
}

type ExitCmd struct {
}

func (e *ExitCmd) Run(g *Globals) error {
	fmt.Println("Exiting...")
	os.Exit(0)
	return nil
}

type HelpCmd struct {
	Command []string `arg:"" optional:"" help:"Show help on command."`
}

// Run shows help.
func (h *HelpCmd) Run(realCtx *kong.Context) error {
	ctx, err := kong.Trace(realCtx.Kong, h.Command)
	if err != nil {
		return err
	}
	if ctx.Error != nil {
		return ctx.Error
	}
	err = ctx.PrintUsage(false)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(realCtx.Stdout)
	return nil
}
