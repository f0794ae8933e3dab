package riva

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	asrPackage  = "nvidia.riva.asr"
	serviceName = asrPackage + ".RivaSpeechRecognition"

	streamingRecognizeMethod = "/" + serviceName + "/StreamingRecognize"

	// linearPCM is AudioEncoding.LINEAR_PCM.
	linearPCM = 1
)

var streamingRecognizeDesc = &grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ServerStreams: true,
	ClientStreams: true,
}

// result is one recognition hypothesis from a streaming response.
type result struct {
	text      string
	final     bool
	stability float32
}

// schema holds the descriptors for the StreamingRecognize messages.
type schema struct {
	request           protoreflect.MessageDescriptor
	response          protoreflect.MessageDescriptor
	streamingConfig   protoreflect.MessageDescriptor
	recognitionConfig protoreflect.MessageDescriptor
	speechContext     protoreflect.MessageDescriptor
}

var loadSchema = sync.OnceValues(buildSchema)

func buildSchema() (*schema, error) {
	file, err := protodesc.NewFile(asrFile(), new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("build riva asr schema: %w", err)
	}
	messages := file.Messages()
	return &schema{
		request:           messages.ByName("StreamingRecognizeRequest"),
		response:          messages.ByName("StreamingRecognizeResponse"),
		streamingConfig:   messages.ByName("StreamingRecognitionConfig"),
		recognitionConfig: messages.ByName("RecognitionConfig"),
		speechContext:     messages.ByName("SpeechContext"),
	}, nil
}

// configRequest is the first message of every stream.
func (s *schema) configRequest(cfg Config) *dynamicpb.Message {
	recognition := dynamicpb.NewMessage(s.recognitionConfig)
	setField(recognition, "encoding", protoreflect.ValueOfInt32(linearPCM))
	setField(recognition, "sample_rate_hertz", protoreflect.ValueOfInt32(int32(cfg.Capture.SampleRate)))
	setField(recognition, "language_code", protoreflect.ValueOfString(cfg.LanguageCode))
	setField(recognition, "max_alternatives", protoreflect.ValueOfInt32(1))
	setField(recognition, "audio_channel_count", protoreflect.ValueOfInt32(int32(cfg.Capture.Channels)))
	setField(recognition, "enable_automatic_punctuation", protoreflect.ValueOfBool(cfg.AutomaticPunctuation))
	if cfg.Model != "" {
		setField(recognition, "model", protoreflect.ValueOfString(cfg.Model))
	}

	contexts := recognition.Mutable(s.recognitionConfig.Fields().ByName("speech_contexts")).List()
	for _, phrase := range cfg.Phrases {
		speech := dynamicpb.NewMessage(s.speechContext)
		speech.Mutable(s.speechContext.Fields().ByName("phrases")).List().Append(protoreflect.ValueOfString(phrase))
		setField(speech, "boost", protoreflect.ValueOfFloat32(cfg.PhraseBoost))
		contexts.Append(protoreflect.ValueOfMessage(speech))
	}

	streaming := dynamicpb.NewMessage(s.streamingConfig)
	setField(streaming, "config", protoreflect.ValueOfMessage(recognition))
	setField(streaming, "interim_results", protoreflect.ValueOfBool(true))

	req := dynamicpb.NewMessage(s.request)
	setField(req, "streaming_config", protoreflect.ValueOfMessage(streaming))
	return req
}

func (s *schema) audioRequest(chunk []byte) *dynamicpb.Message {
	req := dynamicpb.NewMessage(s.request)
	setField(req, "audio_content", protoreflect.ValueOfBytes(chunk))
	return req
}

func (s *schema) newResponse() *dynamicpb.Message {
	return dynamicpb.NewMessage(s.response)
}

// results flattens a response to the top alternative of each result.
func (s *schema) results(resp protoreflect.Message) []result {
	list := getField(resp, "results").List()
	out := make([]result, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		item := list.Get(i).Message()
		alternatives := getField(item, "alternatives").List()
		if alternatives.Len() == 0 {
			continue
		}
		out = append(out, result{
			text:      getField(alternatives.Get(0).Message(), "transcript").String(),
			final:     getField(item, "is_final").Bool(),
			stability: float32(getField(item, "stability").Float()),
		})
	}
	return out
}

func setField(msg protoreflect.Message, name protoreflect.Name, value protoreflect.Value) {
	msg.Set(msg.Descriptor().Fields().ByName(name), value)
}

func getField(msg protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return msg.Get(msg.Descriptor().Fields().ByName(name))
}

// asrFile describes the subset of riva_asr.proto used by streaming recognition.
func asrFile() *descriptorpb.FileDescriptorProto {
	const (
		optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED

		typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
		typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		typeFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	)

	field := func(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, kind descriptorpb.FieldDescriptorProto_Type, message string) *descriptorpb.FieldDescriptorProto {
		f := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Label:  label.Enum(),
			Type:   kind.Enum(),
		}
		if message != "" {
			f.TypeName = proto.String("." + asrPackage + "." + message)
		}
		return f
	}
	message := func(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
		return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
	}

	streamingConfig := field("streaming_config", 1, optional, typeMessage, "StreamingRecognitionConfig")
	streamingConfig.OneofIndex = proto.Int32(0)
	audioContent := field("audio_content", 2, optional, typeBytes, "")
	audioContent.OneofIndex = proto.Int32(0)
	request := message("StreamingRecognizeRequest", streamingConfig, audioContent)
	request.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("streaming_request")}}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("riva/proto/riva_asr.proto"),
		Package: proto.String(asrPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("RecognitionConfig",
				field("encoding", 1, optional, typeInt32, ""),
				field("sample_rate_hertz", 2, optional, typeInt32, ""),
				field("language_code", 3, optional, typeString, ""),
				field("max_alternatives", 4, optional, typeInt32, ""),
				field("speech_contexts", 6, repeated, typeMessage, "SpeechContext"),
				field("audio_channel_count", 7, optional, typeInt32, ""),
				field("enable_automatic_punctuation", 11, optional, typeBool, ""),
				field("model", 13, optional, typeString, ""),
			),
			message("SpeechContext",
				field("phrases", 1, repeated, typeString, ""),
				field("boost", 4, optional, typeFloat, ""),
			),
			message("StreamingRecognitionConfig",
				field("config", 1, optional, typeMessage, "RecognitionConfig"),
				field("interim_results", 2, optional, typeBool, ""),
			),
			request,
			message("StreamingRecognizeResponse",
				field("results", 1, repeated, typeMessage, "StreamingRecognitionResult"),
			),
			message("StreamingRecognitionResult",
				field("alternatives", 1, repeated, typeMessage, "SpeechRecognitionAlternative"),
				field("is_final", 2, optional, typeBool, ""),
				field("stability", 3, optional, typeFloat, ""),
			),
			message("SpeechRecognitionAlternative",
				field("transcript", 1, optional, typeString, ""),
				field("confidence", 2, optional, typeFloat, ""),
			),
		},
	}
}
