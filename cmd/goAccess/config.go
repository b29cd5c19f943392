package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

var ConfigFile = "config.json"

// ClientCred holds the registration result for a client created through this
// tool. The secret is only ever returned at registration or rotation time.
type ClientCred struct {
	ClientId    string `json:"client_id"`
	Secret      string `json:"secret"`
	RedirectUrl string `json:"redirectUrl"`
}

type AccessServer struct {
	Alias        string
	Host         string
	SessionToken string // Bearer token from the last login against this server
	Clients      map[string]ClientCred
}

type ConfigData struct {
	Selected string
	Servers  map[string]AccessServer
}

/*
GetServer returns either the specified server alias, or the currently selected server if alias is ""
*/
func (c *ConfigData) GetServer(alias string) (*AccessServer, error) {
	if alias != "" {
		server, exists := c.Servers[alias]
		if !exists {
			errMsg := fmt.Sprintf("specified alias '%s' is not defined", alias)
			return nil, errors.New(errMsg)
		}
		return &server, nil
	}

	if c.Selected == "" || len(c.Servers) == 0 {
		return nil, errors.New("no servers defined, use 'add server'")
	}

	server := c.Servers[c.Selected]
	return &server, nil
}

func stripQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	first := value[0]
	last := value[len(value)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

func (c *ConfigData) checkConfigPath(g *Globals) error {
	configPath := g.Config
	if configPath == "" {
		configPath = stripQuotes(os.Getenv("GOACCESS_HOME"))
		if configPath == "" {
			configPath = ".goAccess/" + ConfigFile
			usr, err := user.Current()
			if err == nil {
				configPath = filepath.Join(usr.HomeDir, configPath)
			}
		} else {
			fmt.Printf("Using GOACCESS_HOME path: %s\n", configPath)
			g.ConfigFile = configPath
			return nil
		}
	}

	dirPath := filepath.Dir(configPath)
	baseFile := filepath.Base(configPath)
	if filepath.Ext(baseFile) == "" {
		dirPath = configPath
	}

	_, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		fmt.Printf("Creating new config path: %s\n", dirPath)
		err = os.Mkdir(dirPath, 0770)
		if err != nil {
			fmt.Printf("Error creating directory %s: %s", dirPath, err)
			return err
		}
	}

	g.ConfigFile = configPath

	return nil
}

func (c *ConfigData) Load(g *Globals) error {
	if c.Servers == nil {
		c.Servers = map[string]AccessServer{}
	}

	if _, err := os.Stat(g.ConfigFile); os.IsNotExist(err) {
		return nil // No existing configuration
	}

	configBytes, err := os.ReadFile(g.ConfigFile)
	if err != nil {
		fmt.Println("Error reading configuration: " + err.Error())
		return nil
	}
	if len(configBytes) == 0 {
		return nil
	}
	err = json.Unmarshal(configBytes, c)
	if err != nil {
		fmt.Println("Error parsing stored configuration: " + err.Error())
		return err
	}

	if c.Servers == nil {
		c.Servers = map[string]AccessServer{}
	}

	return nil
}

func (c *ConfigData) Save(g *Globals) error {

	out, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return err
	}
	fmt.Println("Writing to: " + g.ConfigFile)
	err = os.WriteFile(g.ConfigFile, out, 0660)
	if err != nil {
		fmt.Println("Error saving configuration: " + err.Error())
	}
	return err
}
