package main

import (
	"fmt"
	"strconv"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-service/pkg/service"
	"github.com/shawseanyang/cs262-replicas/pkg/chat"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Chat    ChatCfg            `json:"chat"`
}

type ChatCfg struct {
	Replicas      chat.ReplicaSet `json:"replicas"`
	DataDirectory string          `json:"dataDirectory"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	chatServer *chat.Server
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)

	v.CheckObject("chat", &cfg.Chat)
}

func (cfg *ChatCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("replicas", func() {
		for _, replica := range cfg.Replicas {
			v.CheckStringNotEmpty("address", replica.Address)
		}
	})

	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("id", "the replica identifier")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	if len(s.Cfg.Chat.Replicas) == 0 {
		return fmt.Errorf("missing or empty replica table")
	}

	for _, replica := range s.Cfg.Chat.Replicas {
		if replica.Port <= 0 {
			return fmt.Errorf("invalid port %d for replica %d",
				replica.Port, replica.Id)
		}
	}

	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	return &s.Cfg.Service
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	if err := s.initChatServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initChatServer() error {
	idString := s.Service.Program.ArgumentValue("id")

	id, err := strconv.Atoi(idString)
	if err != nil {
		return fmt.Errorf("invalid replica id %q", idString)
	}

	logger := s.Log.Child("chat", log.Data{
		"replica": id,
	})

	serverCfg := chat.ServerCfg{
		Id:       chat.ReplicaId(id),
		Replicas: s.Cfg.Chat.Replicas,

		DataDirectory: s.Cfg.Chat.DataDirectory,

		Logger: logger,
	}

	server, err := chat.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("cannot create chat server: %w", err)
	}

	s.chatServer = server

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	if err := s.chatServer.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start chat server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.chatServer.Stop()
}

func (s *Service) Terminate(ss *service.Service) {
}
